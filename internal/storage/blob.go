package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxBlobSize bounds a single stored object.
const DefaultMaxBlobSize int64 = 8 << 20

var (
	ErrNotFound    = errors.New("storage: blob not found")
	ErrInvalidPath = errors.New("storage: invalid blob path")
)

// Reader fetches a blob by absolute URL.
type Reader interface {
	ReadBlob(ctx context.Context, url string) ([]byte, error)
}

// Writer stores a blob at a path relative to the owner's storage root.
type Writer interface {
	WriteBlob(ctx context.Context, path string, data []byte) error
}

// CleanPath validates a relative slash-separated blob path and strips a leading slash.
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// JoinURL appends a blob path to a storage root URL.
func JoinURL(root, p string) string {
	return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(p, "/")
}
