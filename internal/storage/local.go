package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalWriter keeps blobs as files below a directory that is served as a storage root.
type LocalWriter struct {
	dir string
}

func NewLocalWriter(dir string) (*LocalWriter, error) {
	if dir == "" {
		return nil, errors.New("storage: local directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &LocalWriter{dir: dir}, nil
}

func (w *LocalWriter) Dir() string {
	return w.dir
}

func (w *LocalWriter) WriteBlob(_ context.Context, p string, data []byte) error {
	full, err := w.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".blob-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ReadFile returns the blob stored at p.
func (w *LocalWriter) ReadFile(p string) ([]byte, error) {
	full, err := w.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (w *LocalWriter) resolve(p string) (string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, filepath.FromSlash(clean)), nil
}
