package blobstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snipvec/snipvec/persistence"
)

// Local implements Store on a local directory. Puts are crash-safe: each
// blob is written to a temp file and renamed into place. Useful for mirroring
// to a second disk or an NFS mount.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates a store rooted at the given directory. The directory is
// created on first Put, not here.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (s *Local) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Put implements Store.
func (s *Local) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	return persistence.SaveToFile(target, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// Get implements Store. The missing-file error satisfies ErrNotFound without
// translation.
func (s *Local) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return os.Open(s.path(name))
}

// Delete implements Store.
func (s *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

// List implements Store.
func (s *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}
