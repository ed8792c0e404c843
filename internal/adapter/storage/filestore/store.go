// Package filestore serves dataset and identity files from a rooted filesystem.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"datamarket/internal/core/ports"

	"github.com/spf13/afero"
)

// Store implements ports.FileStore on top of an afero filesystem.
type Store struct {
	fs afero.Fs
}

// New wraps fs. Paths handed to the store are resolved relative to its root.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a store confined to root on the local disk.
func NewOS(root string) *Store {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// Open returns the file at p and its size. A missing file yields ports.ErrFileNotFound.
func (s *Store) Open(_ context.Context, p string) (io.ReadCloser, int64, error) {
	name, err := clean(p)
	if err != nil {
		return nil, 0, err
	}

	f, err := s.fs.Open(name)
	if err != nil {
		return nil, 0, mapErr(p, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s: %w", p, ports.ErrFileNotFound)
	}
	return f, info.Size(), nil
}

// Exists reports whether a regular file is stored at p.
func (s *Store) Exists(_ context.Context, p string) (bool, error) {
	name, err := clean(p)
	if err != nil {
		return false, nil
	}

	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

// clean anchors p at the store root so ".." cannot climb out of it.
func clean(p string) (string, error) {
	name := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if name == "" {
		return "", fmt.Errorf("empty path: %w", ports.ErrFileNotFound)
	}
	return name, nil
}

func mapErr(p string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ports.ErrFileNotFound)
	}
	return fmt.Errorf("open %s: %w", p, err)
}
