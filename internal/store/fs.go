package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FS stores blobs as files below a root directory of an afero filesystem.
type FS struct {
	fs afero.Fs
}

// NewFS returns a store rooted at dir on the OS filesystem. The directory is
// created if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "error creating store root %s", dir)
	}
	return NewFSFrom(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewFSFrom wraps an existing afero filesystem, e.g. afero.NewMemMapFs() in
// tests.
func NewFSFrom(fs afero.Fs) *FS {
	return &FS{fs: fs}
}

// Get implements Store.
func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := s.path(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", key)
	}
	return data, nil
}

// Put implements Store. The blob is written to a temporary file and renamed
// into place so readers never observe a partial checkpoint.
func (s *FS) Put(ctx context.Context, key string, data []byte) error {
	name, err := s.path(ctx, key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return errors.Wrapf(err, "error creating directory for %s", key)
	}

	tmp := name + ".tmp-" + uuid.New().String()
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "error writing %s", key)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		s.fs.Remove(tmp)
		return errors.Wrapf(err, "error renaming %s", key)
	}
	return nil
}

// List implements Store.
func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := afero.Walk(s.fs, "/", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.Contains(filepath.Base(name), ".tmp-") {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(name), "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error listing %q", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Store.
func (s *FS) Delete(ctx context.Context, key string) error {
	name, err := s.path(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.fs.Stat(name); os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "%s", key)
	}
	if err := s.fs.Remove(name); err != nil {
		return errors.Wrapf(err, "error deleting %s", key)
	}
	return nil
}

func (s *FS) path(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash("/" + cleaned), nil
}
