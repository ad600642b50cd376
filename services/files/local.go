// Package filesvc implements core.FileStore on the local disk and on S3.
package filesvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	ErrNotFound   = core.NewError(core.KindNotFound, "file not found")
	ErrInvalidRef = core.NewError(core.KindNotFound, "invalid file reference")
)

// LocalStore keeps files under root. References are slash separated paths relative to root.
type LocalStore struct {
	root string
}

var _ core.FileStore = (*LocalStore)(nil)

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", root)
	}
	return &LocalStore{root: root}, nil
}

// cleanRef rejects references escaping the store's root.
func cleanRef(ref string) (string, error) {
	cleaned := path.Clean("/" + ref)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(ref, "/") {
		return "", ErrInvalidRef
	}
	return cleaned, nil
}

func (s *LocalStore) fpath(ref string) (string, error) {
	cleaned, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Save writes r to a temporary file and moves it into place once complete.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	fp, err := s.fpath(name)
	if err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return "", core.Unavailable(err, "creating file directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(fp), ".upload-*")
	if err != nil {
		return "", core.Unavailable(err, "creating file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // no-op once renamed

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", core.Unavailable(err, "writing file")
	}
	if err = tmp.Close(); err != nil {
		return "", core.Unavailable(err, "closing file")
	}
	if err = os.Rename(tmp.Name(), fp); err != nil {
		return "", core.Unavailable(err, "moving file")
	}
	return path.Clean("/" + name)[1:], nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	fp, err := s.fpath(ref)
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, core.Unavailable(err, "opening file")
	}
	return f, nil
}

// Delete removes the file at ref. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	fp, err := s.fpath(ref)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return core.Unavailable(err, "deleting file")
	}
	return nil
}
