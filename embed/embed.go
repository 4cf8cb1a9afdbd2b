// Package embed defines the embedding boundary of the store. The store never
// computes vectors itself; it calls an injected Embedder and treats backend
// failures as a distinct, retryable error class.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks embedding backend failures: network errors, quota
// exhaustion, a local model server that is down. Operations failing with it
// left the store unchanged and can be retried once the backend recovers.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Unavailable wraps err so it matches ErrUnavailable in errors.Is while
// preserving the cause chain. A nil err stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}

	return errors.Join(ErrUnavailable, err)
}

// Embedder turns text into a fixed-dimension vector. Implementations must be
// safe for concurrent use; the store embeds outside its own locks.
type Embedder interface {
	// Embed returns the vector for text. The slice is owned by the caller.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the width of the vectors Embed produces.
	Dimension() int
}

// Func adapts a plain function into an Embedder.
type Func struct {
	dim int
	fn  func(ctx context.Context, text string) ([]float32, error)
}

// NewFunc wraps fn as an Embedder producing dim-wide vectors.
func NewFunc(dim int, fn func(ctx context.Context, text string) ([]float32, error)) *Func {
	return &Func{dim: dim, fn: fn}
}

// Embed implements Embedder.
func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.fn(ctx, text)
}

// Dimension implements Embedder.
func (f *Func) Dimension() int {
	return f.dim
}

// Disabled returns an Embedder that always reports ErrUnavailable. It backs
// deployments that load and serve an existing store without an embedding
// backend configured; reads of stored metadata still work, only operations
// that need fresh vectors fail.
func Disabled(dim int) Embedder {
	return NewFunc(dim, func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("%w: no embedder configured", ErrUnavailable)
	})
}
