// Package blobstore abstracts the object stores a snapshot can be mirrored
// to. A mirror holds whole snapshot artifacts under generation-scoped names;
// stores only need flat put/get/list/delete, not random access.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist so filesystem-backed stores need no
// translation.
var ErrNotFound = os.ErrNotExist

// Store is a destination for snapshot artifacts. Names may contain "/" and
// are interpreted as hierarchical keys.
type Store interface {
	// Put uploads a blob under name, replacing any previous version. Size is
	// the exact number of bytes r yields; backends that stream (S3 multipart,
	// MinIO) use it to pick an upload strategy.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens a blob for reading. Missing blobs yield ErrNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names under prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}
