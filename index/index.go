// Package index defines the similarity-index capability the snippet store
// builds on: insert, ranked nearest-neighbor search, tombstoning and snapshot
// serialization. The in-process flat implementation lives in index/flat;
// remote backends (index/qdrant, index/pgvector) implement the same
// capability, so callers depend only on this package.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidK is returned when a search is requested with k < 1.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned when operating on a closed index.
	ErrClosed = errors.New("index is closed")
)

// ErrDimensionMismatch is a named error type for vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension is a named error type for an invalid configured
// dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrIDNotFound is a named error type for operations on an id that does not
// exist or is already tombstoned.
type ErrIDNotFound struct {
	ID uint64
}

func (e *ErrIDNotFound) Error() string {
	return fmt.Sprintf("id not found: %d", e.ID)
}

// SearchResult represents a single ranked match.
type SearchResult struct {
	// ID is the identifier of the matched vector.
	ID uint64

	// Distance is the squared L2 distance between query and match.
	// Smaller is closer.
	Distance float32
}

// Index is the similarity-index capability.
//
// Ids are assigned by the index as the insertion sequence number starting at
// zero, strictly increasing, and never reused; tombstoned slots keep their
// id forever. Search results are ranked by ascending distance with ties
// broken by ascending id, so an unchanged index always returns an identical
// ordering.
//
// Implementations must be safe for concurrent use: searches may run in
// parallel, mutations are serialized against searches and each other.
type Index interface {
	// Insert adds a vector and returns its assigned id.
	Insert(ctx context.Context, vector []float32) (uint64, error)

	// Search returns up to k non-tombstoned vectors nearest to query.
	Search(ctx context.Context, query []float32, k int) ([]SearchResult, error)

	// Tombstone marks id as deleted, excluding it from future searches.
	// Storage is not reclaimed and the id is never reassigned.
	Tombstone(ctx context.Context, id uint64) error

	// Contains reports whether id refers to a live, searchable vector.
	Contains(id uint64) bool

	// Dimension returns the fixed vector dimensionality D.
	Dimension() int

	// Len returns the total number of slots, tombstoned ones included.
	Len() int

	// Live returns the number of non-tombstoned vectors.
	Live() int

	// WriterTo serializes the full index state: vectors plus tombstone set.
	// Remote-backed implementations serialize only their client-side id
	// ledger; vector durability is the remote service's concern.
	io.WriterTo

	// ReaderFrom restores state serialized by WriteTo into this instance.
	// The instance must be freshly constructed and empty.
	io.ReaderFrom
}
