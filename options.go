package snipvec

import (
	"log/slog"

	"github.com/snipvec/snipvec/blobstore"
	"github.com/snipvec/snipvec/codec"
	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/persistence"
)

type options struct {
	codec            codec.Codec
	compression      persistence.Compression
	metricsCollector MetricsCollector
	logger           *Logger
	index            index.Index
	mirror           blobstore.Store
	mirrorRateLimit  float64
	overfetchFactor  int
	initialCapacity  int
	autoPersist      bool
	fileLock         bool
	mmap             bool
}

// Option configures Open behavior.
type Option func(*options)

// WithCodec configures the codec used for the metadata log payload.
//
// If nil is passed, codec.Default is used. Reading always honors the codec
// named in the file header, so changing this only affects new snapshots.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression configures the compression applied to the metadata log
// payload. Defaults to zstd; persistence.CompressionNone keeps the log
// inspectable with standard tools at the cost of size.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithIndex swaps the default local flat index for another backend, e.g. a
// Qdrant or pgvector adapter. The backend must produce vectors of the same
// dimension as the embedder.
func WithIndex(idx index.Index) Option {
	return func(o *options) {
		o.index = idx
	}
}

// WithMirror configures an object store that receives a copy of both
// snapshot artifacts after every successful save. Mirroring failures are
// logged, never fatal; the local snapshot remains the source of truth.
func WithMirror(store blobstore.Store) Option {
	return func(o *options) {
		o.mirror = store
	}
}

// WithMirrorRateLimit caps mirror uploads at bytesPerSecond. Zero means
// unlimited. Useful when the mirror shares a link with serving traffic.
func WithMirrorRateLimit(bytesPerSecond float64) Option {
	return func(o *options) {
		o.mirrorRateLimit = bytesPerSecond
	}
}

// WithOverfetchFactor tunes how many extra candidates a filtered search
// requests from the index before filtering, as a multiple of k. Values below
// 2 are raised to 2; low factors make filtered searches re-query more often.
func WithOverfetchFactor(factor int) Option {
	return func(o *options) {
		if factor < 2 {
			factor = 2
		}
		o.overfetchFactor = factor
	}
}

// WithInitialCapacity preallocates vector storage for the expected number of
// snippets, avoiding regrowth during bulk loads.
func WithInitialCapacity(n int) Option {
	return func(o *options) {
		o.initialCapacity = n
	}
}

// WithManualPersistence disables the automatic snapshot after each mutation.
// The caller owns durability and calls Save explicitly, typically after a
// bulk load. A crash before Save loses the unsaved mutations.
func WithManualPersistence() Option {
	return func(o *options) {
		o.autoPersist = false
	}
}

// WithoutFileLock skips the store directory lock file. Only safe when some
// other mechanism guarantees a single writer, e.g. a supervisor that starts
// at most one process.
func WithoutFileLock() Option {
	return func(o *options) {
		o.fileLock = false
	}
}

// WithMmap loads the vector blob via memory mapping instead of reading it
// onto the heap. Cuts open time and resident memory for read-heavy stores;
// the first mutation transparently materializes the vectors.
func WithMmap() Option {
	return func(o *options) {
		o.mmap = true
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &snipvec.BasicMetricsCollector{}
//	store, _ := snipvec.Open(ctx, dir, embedder, snipvec.WithMetricsCollector(metrics))
//	// ... use store ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := snipvec.NewJSONLogger(slog.LevelInfo)
//	store, _ := snipvec.Open(ctx, dir, embedder, snipvec.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		compression:      persistence.CompressionZstd,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		overfetchFactor:  2,
		autoPersist:      true,
		fileLock:         true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
