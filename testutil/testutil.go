// Package testutil provides deterministic helpers for tests: a seeded
// thread-safe RNG, vector generators, a brute-force ground-truth search and
// fake text embedders that need no model or network.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/snipvec/snipvec/distance"
)

// SearchResult represents a ground-truth search result.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		invNorm := float32(1.0 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= invNorm
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dimensions int) []float32 {
	return r.UnitVectors(1, dimensions)[0]
}

// BruteForceSearch performs exact squared-L2 search for ground truth.
// Ties on distance break by ascending id, matching the index contract.
func BruteForceSearch(vectors [][]float32, query []float32, k int) []SearchResult {
	results := make([]SearchResult, len(vectors))
	for i, v := range vectors {
		results[i] = SearchResult{ID: uint64(i), Distance: distance.SquaredL2(query, v)}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// KeywordEmbedder is a deterministic text embedder for tests. It buckets
// words by their leading byte and L2-normalizes the counts, so texts sharing
// leading word letters ("add", "addition") land close together while
// unrelated texts stay apart. Identical input always yields identical output.
type KeywordEmbedder struct {
	dim int
}

// NewKeywordEmbedder creates a keyword embedder producing vectors of the
// given dimension.
func NewKeywordEmbedder(dim int) *KeywordEmbedder {
	return &KeywordEmbedder{dim: dim}
}

// Dimension returns the embedding dimension.
func (e *KeywordEmbedder) Dimension() int {
	return e.dim
}

// Embed maps text to a deterministic unit vector.
func (e *KeywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, w := range words {
		vec[int(w[0])%e.dim]++
	}

	if !distance.NormalizeL2InPlace(vec) {
		// Text with no words maps to a fixed arbitrary direction.
		vec[0] = 1
	}
	return vec, nil
}

// StaticEmbedder returns preset vectors keyed by exact input text. It gives
// tests full geometric control over where each text lands.
type StaticEmbedder struct {
	dim     int
	vectors map[string][]float32
}

// NewStaticEmbedder creates a static embedder over the given text -> vector
// mapping. All vectors must have the given dimension.
func NewStaticEmbedder(dim int, vectors map[string][]float32) *StaticEmbedder {
	return &StaticEmbedder{dim: dim, vectors: vectors}
}

// Dimension returns the embedding dimension.
func (e *StaticEmbedder) Dimension() int {
	return e.dim
}

// Embed returns the preset vector for text, or an error for unknown text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("static embedder: no vector for %q", text)
	}
	return vec, nil
}

// ErrEmbedderDown is returned by FailingEmbedder on every call.
var ErrEmbedderDown = errors.New("embedder down")

// FailingEmbedder always fails. It exists to exercise the unavailable-embedder
// error path.
type FailingEmbedder struct {
	Dim int
}

// Dimension returns the embedding dimension.
func (e *FailingEmbedder) Dimension() int {
	return e.Dim
}

// Embed always returns ErrEmbedderDown.
func (e *FailingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrEmbedderDown
}
