package snipvec

import (
	"errors"
	"fmt"

	"github.com/snipvec/snipvec/embed"
	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/metadata"
	"github.com/snipvec/snipvec/persistence"
)

var (
	// ErrNotFound is returned when a snippet ID does not resolve to a live
	// entry, either because it was never assigned or because the snippet was
	// already deleted.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingUnavailable is returned when the embedding backend cannot
	// be reached. The store is unchanged; the operation can be retried.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrSnapshotFormat is returned when a persisted artifact is malformed:
	// bad magic, unsupported version, checksum mismatch, truncation.
	ErrSnapshotFormat = errors.New("malformed snapshot")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrStoreLocked is returned when another process holds the store
	// directory's lock file.
	ErrStoreLocked = errors.New("store directory locked by another process")
)

// ErrDimensionMismatch indicates a vector/index dimensionality mismatch,
// typically a store created under one embedding model being reopened with
// another.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps internal package errors onto the store's public error
// surface. Filesystem errors pass through untouched; os.IsNotExist and
// friends already classify those better than a blanket wrapper would.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	var idNotFound *index.ErrIDNotFound
	if errors.As(err, &idNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var recNotFound *metadata.ErrRecordNotFound
	if errors.As(err, &recNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Dimension and argument normalization.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	// Embedding backend failures.
	if errors.Is(err, embed.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	// Snapshot format violations.
	var checksum *persistence.ChecksumMismatchError
	if errors.Is(err, persistence.ErrInvalidMagic) ||
		errors.Is(err, persistence.ErrInvalidVersion) ||
		errors.Is(err, persistence.ErrInvalidIndex) ||
		errors.Is(err, persistence.ErrInvalidHeader) ||
		errors.As(err, &checksum) {
		return fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
	}

	return err
}
