// Package flat provides the in-process flat similarity index.
//
// The layout is a single contiguous float32 array scanned in full on every
// search. That is a deliberate scalability boundary, not an oversight: at the
// intended corpus size (thousands of snippets, not billions of vectors) an
// exact linear scan beats approximate structures on simplicity, determinism
// and persistence, and its results carry no recall error. Deletion marks a
// tombstone bit and zeroes the slot; slots are never reclaimed, so ids stay
// stable for the lifetime of the index.
package flat

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/snipvec/snipvec/distance"
	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/internal/queue"
)

// Compile-time check to ensure Flat satisfies the index capability.
var _ index.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all inserts and searches.
	Dimension int

	// InitialCapacity preallocates room for this many vectors.
	InitialCapacity int
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Dimension:       0,
	InitialCapacity: 0,
}

// Flat represents a flat index for vector storage and search.
//
// A single read-write mutex guards the state: searches share it, mutations
// hold it exclusively. Readers therefore never observe a vector whose id has
// not been committed, or a half-applied tombstone.
type Flat struct {
	mu         sync.RWMutex
	dim        int
	vectors    []float32 // contiguous, slot i at [i*dim : (i+1)*dim]
	tombstones *roaring64.Bitmap
	mapped     bool // vectors alias a read-only mmap region
}

// New creates a new flat index. Dimension is required.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: opts.Dimension}
	}

	return &Flat{
		dim:        opts.Dimension,
		vectors:    make([]float32, 0, opts.InitialCapacity*opts.Dimension),
		tombstones: roaring64.New(),
	}, nil
}

// Insert adds a vector and returns its assigned id: the insertion sequence
// number, starting at zero and never reused.
func (f *Flat) Insert(ctx context.Context, vector []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(vector) != f.dim {
		return 0, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(vector)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.materializeLocked()

	id := f.slotsLocked()
	f.vectors = append(f.vectors, vector...)
	return id, nil
}

// Search returns the k nearest non-tombstoned vectors under squared L2
// distance, ranked ascending with ties broken by ascending id.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	slots := f.slotsLocked()
	if slots == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(query)}
	}

	actualK := k
	if live := slots - f.tombstones.GetCardinality(); uint64(actualK) > live {
		actualK = int(live)
	}
	if actualK == 0 {
		return nil, nil
	}

	// Bounded max-heap: the worst candidate sits on top and is evicted
	// whenever a closer one (or an equal one with a lower id) shows up.
	top := queue.NewMax(actualK)
	for id := uint64(0); id < slots; id++ {
		if f.tombstones.Contains(id) {
			continue
		}

		d := distance.SquaredL2(query, f.vectors[id*uint64(f.dim):(id+1)*uint64(f.dim)])
		if top.Len() < actualK {
			top.Push(queue.Item{ID: id, Distance: d})
			continue
		}

		worst, _ := top.Top()
		if d < worst.Distance || (d == worst.Distance && id < worst.ID) {
			top.Pop()
			top.Push(queue.Item{ID: id, Distance: d})
		}
	}

	// Drain the max-heap backwards to get ascending order.
	results := make([]index.SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := top.Pop()
		results[i] = index.SearchResult{ID: item.ID, Distance: item.Distance}
	}
	return results, nil
}

// Tombstone marks id as deleted and zeroes its slot. The id is never
// reassigned and the slot is never reclaimed.
func (f *Flat) Tombstone(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if id >= f.slotsLocked() || f.tombstones.Contains(id) {
		return &index.ErrIDNotFound{ID: id}
	}

	f.materializeLocked()
	f.tombstones.Add(id)

	// Zero the slot so the persisted blob carries placeholders, not stale
	// vector data.
	slot := f.vectors[id*uint64(f.dim) : (id+1)*uint64(f.dim)]
	for i := range slot {
		slot[i] = 0
	}
	return nil
}

// Dimension returns the fixed vector dimensionality D.
func (f *Flat) Dimension() int {
	return f.dim
}

// Len returns the total number of slots, tombstoned ones included.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.slotsLocked())
}

// Live returns the number of non-tombstoned vectors.
func (f *Flat) Live() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.slotsLocked() - f.tombstones.GetCardinality())
}

// Tombstoned reports whether id exists and is tombstoned.
func (f *Flat) Tombstoned(id uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return id < f.slotsLocked() && f.tombstones.Contains(id)
}

// Contains reports whether id refers to a live, searchable vector.
func (f *Flat) Contains(id uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return id < f.slotsLocked() && !f.tombstones.Contains(id)
}

// slotsLocked returns the slot count. Caller holds mu.
func (f *Flat) slotsLocked() uint64 {
	if f.dim == 0 {
		return 0
	}
	return uint64(len(f.vectors) / f.dim)
}

// materializeLocked copies mmap-backed vectors onto the heap before the
// first mutation; writing through the read-only mapping would fault.
// Caller holds mu exclusively.
func (f *Flat) materializeLocked() {
	if !f.mapped {
		return
	}
	heapCopy := make([]float32, len(f.vectors))
	copy(heapCopy, f.vectors)
	f.vectors = heapCopy
	f.mapped = false
}
