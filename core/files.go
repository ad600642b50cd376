package core

import (
	"context"
	"io"
	"sort"
)

var (
	ErrFileTooLarge      = NewValidationError(nil, FieldError{Field: "file", Error: "file is too large"})
	ErrFileTypeForbidden = NewValidationError(nil, FieldError{Field: "file", Error: "file type is not allowed"})

	allowedFileExts = []string{
		".7z", ".doc", ".docx", ".jpeg", ".jpg", ".pdf", ".png", ".ppt",
		".pptx", ".rar", ".txt", ".xls", ".xlsx", ".zip",
	}
)

// Upload is a file received from a client.
type Upload struct {
	Name    string
	Size    int64
	Content io.Reader
}

// FileStore saves and loads byte streams. The returned reference is opaque to callers.
type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// CheckUpload validates an upload's extension and size.
func CheckUpload(up Upload, maxSize int64) error {
	ext := FileExt(up.Name)
	if i := sort.SearchStrings(allowedFileExts, ext); i >= len(allowedFileExts) || allowedFileExts[i] != ext {
		return ErrFileTypeForbidden
	}
	if maxSize > 0 && up.Size > maxSize {
		return ErrFileTooLarge
	}
	return nil
}
