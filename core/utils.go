package core

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanFileName replaces path-unsafe characters in `s` with underscores.
func CleanFileName(s string) string {
	s = unsafeFileChars.ReplaceAllString(CleanString(s), "_")
	if s == "" {
		return "file"
	}
	return s
}

// FileExt returns the lower-cased extension of name, including the dot.
func FileExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
