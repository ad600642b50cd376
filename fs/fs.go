package appfs

import "embed"

// FS holds the SQL migrations, email templates and the common passwords list.
//
//go:embed migrations all:templates passwords
var FS embed.FS
