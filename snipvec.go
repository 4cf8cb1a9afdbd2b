package snipvec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"github.com/snipvec/snipvec/blobstore"
	"github.com/snipvec/snipvec/codec"
	"github.com/snipvec/snipvec/embed"
	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/index/flat"
	"github.com/snipvec/snipvec/metadata"
	"github.com/snipvec/snipvec/persistence"
)

const (
	// VectorsFile is the vector blob artifact inside a store directory.
	// For the built-in flat index it holds every vector ever inserted;
	// for remote-backed indexes it holds only the client-side id ledger.
	VectorsFile = "vectors.snap"

	// MetadataFile is the snippet metadata log artifact.
	MetadataFile = "snippets.meta"

	// lockFile guards a store directory against concurrent processes.
	lockFile = ".lock"
)

// Store is a persistent semantic snippet store. Snippets are indexed by an
// embedding of their description and code, searched by squared L2 distance,
// and survive restarts through a two-artifact snapshot in the store
// directory.
//
// A Store is safe for concurrent use. Reads run in parallel; mutations are
// serialized. Embedding always happens outside the store lock, so a slow
// embedding backend never blocks searches against the existing data.
type Store struct {
	dir      string
	embedder embed.Embedder

	// mu guards idx and log as a pair: a snippet is either present in both
	// or in neither, never halfway.
	mu     sync.RWMutex
	idx    index.Index
	log    *metadata.Log
	closed bool

	codec       codec.Codec
	compression persistence.Compression
	autoPersist bool
	overfetch   int

	mirror      blobstore.Store
	mirrorLimit *rate.Limiter

	flock      *flock.Flock
	mmapCloser io.Closer

	metrics MetricsCollector
	logger  *Logger
}

// Open opens the store rooted at dir, creating the directory on first use.
// Missing snapshot artifacts mean a fresh store, not an error.
//
// The embedder is required: the store never computes vectors itself, it
// only stores and compares what the embedder produces. Reopening a
// directory with an embedder of a different dimension fails with
// ErrDimensionMismatch.
//
// Unless WithoutFileLock is set, Open takes an advisory lock on the
// directory and fails with ErrStoreLocked while another process holds it.
func Open(ctx context.Context, dir string, embedder embed.Embedder, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	if embedder == nil {
		return nil, fmt.Errorf("snipvec: embedder is required")
	}
	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("snipvec: embedder reports invalid dimension %d", dim)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &Store{
		dir:         dir,
		embedder:    embedder,
		codec:       opts.codec,
		compression: opts.compression,
		autoPersist: opts.autoPersist,
		overfetch:   opts.overfetchFactor,
		mirror:      opts.mirror,
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
	}
	if s.mirror != nil && opts.mirrorRateLimit > 0 {
		s.mirrorLimit = newMirrorLimiter(opts.mirrorRateLimit)
	}

	if opts.fileLock {
		fl := flock.New(filepath.Join(dir, lockFile))
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring directory lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrStoreLocked, dir)
		}
		s.flock = fl
	}

	if err := s.loadArtifacts(opts, dim); err != nil {
		s.releaseResources()
		return nil, translateError(err)
	}

	repaired, err := s.reconcile(ctx)
	if err != nil {
		s.releaseResources()
		return nil, translateError(err)
	}
	if repaired > 0 {
		s.logger.LogRecovery(ctx, repaired)
		if s.autoPersist {
			// Write the repaired pair back so the next open starts clean.
			// The store stays usable in memory even if this write fails.
			if perr := s.persistLocked(ctx); perr != nil {
				s.logger.LogSnapshot(ctx, s.dir, translateError(perr))
			}
		}
	}

	return s, nil
}

// loadArtifacts restores the vector index and the metadata log from the
// store directory. Either artifact may be missing; the other side is then
// repaired by reconcile.
func (s *Store) loadArtifacts(opts options, dim int) error {
	vecPath := filepath.Join(s.dir, VectorsFile)

	switch {
	case opts.index != nil:
		err := persistence.LoadFromFile(vecPath, func(r io.Reader) error {
			_, err := opts.index.ReadFrom(r)
			return err
		})
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		s.idx = opts.index
	case opts.mmap:
		idx, closer, err := flat.LoadFromFileMmap(vecPath)
		if os.IsNotExist(err) {
			idx, err = flat.New(func(o *flat.Options) {
				o.Dimension = dim
				o.InitialCapacity = opts.initialCapacity
			})
			closer = nil
		}
		if err != nil {
			return err
		}
		s.idx = idx
		s.mmapCloser = closer
	default:
		idx, err := flat.LoadFromFile(vecPath, func(o *flat.Options) {
			o.Dimension = dim
			o.InitialCapacity = opts.initialCapacity
		})
		if err != nil {
			return err
		}
		s.idx = idx
	}

	if got := s.idx.Dimension(); got != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: got}
	}

	s.log = metadata.NewLog()
	err := persistence.LoadFromFile(filepath.Join(s.dir, MetadataFile), func(r io.Reader) error {
		_, err := s.log.DecodeFrom(r)
		return err
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// reconcile repairs disagreement between the two artifacts after a load,
// for example when a crash separated a snapshot pair. A record without a
// live vector is tombstoned in the log; a live vector without a record is
// tombstoned in the index. It returns the number of repairs.
func (s *Store) reconcile(ctx context.Context) (int, error) {
	repaired := 0

	// The index owns the id sequence. If its artifact went missing or
	// stale, the sequence would restart below ids the log still holds, so
	// burn tombstoned slots up to the log's highest id first.
	var maxID uint64
	hasRecords := false
	s.log.Range(func(rec metadata.Record) bool {
		hasRecords = true
		if rec.ID > maxID {
			maxID = rec.ID
		}
		return true
	})
	// An id past the slot cap cannot match any loadable vector artifact,
	// so the log itself is corrupt, not merely ahead of the index.
	if hasRecords && maxID >= persistence.MaxVectorCount {
		return 0, fmt.Errorf("%w: metadata log names record id %d, beyond the %d slot limit", ErrSnapshotFormat, maxID, persistence.MaxVectorCount)
	}
	if hasRecords && uint64(s.idx.Len()) <= maxID {
		zero := make([]float32, s.idx.Dimension())
		for uint64(s.idx.Len()) <= maxID {
			id, err := s.idx.Insert(ctx, zero)
			if err != nil {
				break
			}
			_ = s.idx.Tombstone(ctx, id)
			repaired++
		}
	}

	total := uint64(s.idx.Len())
	s.log.Range(func(rec metadata.Record) bool {
		if rec.Deleted {
			return true
		}
		if !s.idx.Contains(rec.ID) {
			if s.log.Tombstone(rec.ID) == nil {
				repaired++
			}
		}
		return true
	})

	for id := uint64(0); id < total; id++ {
		if s.idx.Contains(id) && !s.log.Matches(id, "") {
			if s.idx.Tombstone(ctx, id) == nil {
				repaired++
			}
		}
	}
	return repaired, nil
}

// StoreSnippet embeds the snippet and inserts it under a fresh id. The
// embedding input is the description and code joined by a blank line, so
// both prose and identifiers contribute to search.
//
// With automatic persistence enabled a snapshot is written before the call
// returns. If that write fails, the snippet is still live in memory and
// the assigned id is returned alongside the error; a later Save or any
// subsequent mutation will retry durability.
func (s *Store) StoreSnippet(ctx context.Context, snippet Snippet) (uint64, error) {
	start := time.Now()
	id, err := s.storeSnippet(ctx, snippet)
	duration := time.Since(start)

	err = translateError(err)
	s.metrics.RecordStore(duration, err)
	s.logger.LogStore(ctx, id, snippet.Language, err)

	return id, err
}

func (s *Store) storeSnippet(ctx context.Context, snippet Snippet) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	// Embed before taking the lock: backend latency must not serialize
	// the store.
	vector, err := s.embedder.Embed(ctx, metadata.SearchText(snippet.Description, snippet.Code))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	id, err := s.idx.Insert(ctx, vector)
	if err != nil {
		return 0, err
	}

	rec := metadata.Record{
		ID:          id,
		Code:        snippet.Code,
		Description: snippet.Description,
		Language:    snippet.Language,
		Owner:       snippet.Owner,
	}
	if err := s.log.Append(rec); err != nil {
		// Roll the half-written pair back. The slot is burned, never
		// reused, so the id sequence stays monotonic.
		_ = s.idx.Tombstone(ctx, id)
		return 0, err
	}

	if s.autoPersist {
		if err := s.persistLocked(ctx); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Get returns the stored snippet for id. Deleted and never-assigned ids
// fail with ErrNotFound.
func (s *Store) Get(id uint64) (Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Snippet{}, ErrClosed
	}
	rec, ok := s.log.Get(id)
	if !ok {
		return Snippet{}, fmt.Errorf("%w: snippet %d", ErrNotFound, id)
	}
	return Snippet{
		Code:        rec.Code,
		Description: rec.Description,
		Language:    rec.Language,
		Owner:       rec.Owner,
	}, nil
}

// Delete removes the snippet with the given id from search results. The
// vector slot and the metadata record are tombstoned together; the id is
// never reassigned. Deleting an unknown or already-deleted id fails with
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	start := time.Now()
	err := s.delete(ctx, id)
	duration := time.Since(start)

	err = translateError(err)
	s.metrics.RecordDelete(duration, err)
	s.logger.LogDelete(ctx, id, err)

	return err
}

func (s *Store) delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.log.Matches(id, "") {
		return fmt.Errorf("%w: snippet %d", ErrNotFound, id)
	}
	if err := s.idx.Tombstone(ctx, id); err != nil {
		return err
	}
	if err := s.log.Tombstone(id); err != nil {
		return err
	}

	if s.autoPersist {
		return s.persistLocked(ctx)
	}
	return nil
}

// Compact drops tombstoned records from the metadata log so the snapshot
// stops paying for deleted snippets. Vector slots are not reclaimed: the
// flat index keeps them to preserve id stability, which is why tombstone
// growth is bounded only by this call's cadence.
func (s *Store) Compact(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.compact(ctx)
	duration := time.Since(start)

	err = translateError(err)
	s.metrics.RecordCompact(removed, duration, err)
	s.logger.LogCompact(ctx, removed, err)

	return removed, err
}

func (s *Store) compact(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	removed := len(s.log.Compact())
	if removed > 0 && s.autoPersist {
		return removed, s.persistLocked(ctx)
	}
	return removed, nil
}

// Save writes both snapshot artifacts to the store directory. The pair is
// staged as temp files and moved into place with renames, so a crash
// mid-save leaves the previous snapshot intact.
//
// With automatic persistence enabled (the default) every mutation already
// saves; Save exists for stores opened with WithManualPersistence.
func (s *Store) Save(ctx context.Context) error {
	start := time.Now()
	err := s.save(ctx)
	duration := time.Since(start)

	err = translateError(err)
	s.metrics.RecordSnapshot(duration, err)
	s.logger.LogSnapshot(ctx, s.dir, err)

	return err
}

func (s *Store) save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.persistLocked(ctx)
}

// persistLocked writes the snapshot pair and, when a mirror is configured,
// uploads it. Caller holds mu in either mode; the index and log take their
// own read locks below it, keeping the lock order store then component.
func (s *Store) persistLocked(ctx context.Context) error {
	err := persistence.AtomicSaveToDir(s.dir, map[string]func(io.Writer) error{
		VectorsFile: func(w io.Writer) error {
			_, err := s.idx.WriteTo(w)
			return err
		},
		MetadataFile: func(w io.Writer) error {
			_, err := s.log.EncodeTo(w, s.codec, s.compression)
			return err
		},
	})
	if err != nil {
		return err
	}

	if s.mirror != nil {
		// Mirror failures are logged, never fatal: the local snapshot
		// remains the source of truth.
		s.mirrorSnapshot(ctx)
	}
	return nil
}

// Stats returns a point-in-time view of the store's contents.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.idx.Len()
	live := s.log.Live()
	return Stats{
		TotalEntries:      total,
		LiveEntries:       live,
		TombstonedEntries: total - live,
		Dimension:         s.idx.Dimension(),
		Languages:         s.log.CountByLanguage(),
	}
}

// Languages returns the sorted set of language tags carried by live
// snippets.
func (s *Store) Languages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Languages()
}

// Close releases the directory lock and any mapped snapshot memory. It
// does not save: with automatic persistence every mutation already has,
// and with manual persistence durability is the caller's call to make.
// Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.releaseResources()
}

func (s *Store) releaseResources() error {
	var firstErr error
	if c, ok := s.idx.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.mmapCloser != nil {
		if err := s.mmapCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mmapCloser = nil
	}
	if s.flock != nil {
		if err := s.flock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.flock = nil
	}
	return firstErr
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
