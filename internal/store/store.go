// Package store persists encoded checkpoints as opaque blobs under string
// keys. Keys use forward slashes regardless of backend.
package store

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get and Delete for a key with no blob.
var ErrNotFound = errors.New("store: key not found")

// Store is a flat key-value blob store.
type Store interface {
	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte) error
	// List returns every key beginning with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the blob stored under key.
	Delete(ctx context.Context, key string) error
}

// CleanKey normalises a key and rejects ones that escape the store root.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("store: empty key")
	}
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", errors.Errorf("store: key %q escapes the store root", key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", errors.Errorf("store: invalid key %q", key)
	}
	return cleaned, nil
}
