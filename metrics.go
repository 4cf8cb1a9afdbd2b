package snipvec

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordStore is called after each snippet store operation.
	// duration is the total time taken including embedding, err is nil if
	// successful.
	RecordStore(duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of results requested, scanned is the number of
	// candidates the index ranked before filtering.
	RecordSearch(k, scanned int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(duration time.Duration, err error)

	// RecordCompact is called after each compaction with the number of
	// records removed.
	RecordCompact(removed int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStore(time.Duration, error)            {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)           {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)         {}
func (NoopMetricsCollector) RecordCompact(int, time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StoreCount       atomic.Int64
	StoreErrors      atomic.Int64
	StoreTotalNanos  atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	SearchScanned    atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
	CompactCount     atomic.Int64
	CompactRemoved   atomic.Int64
}

// RecordStore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStore(duration time.Duration, err error) {
	b.StoreCount.Add(1)
	b.StoreTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StoreErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k, scanned int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	b.SearchScanned.Add(int64(scanned))
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordCompact implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompact(removed int, duration time.Duration, err error) {
	b.CompactCount.Add(1)
	b.CompactRemoved.Add(int64(removed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StoreCount:     b.StoreCount.Load(),
		StoreErrors:    b.StoreErrors.Load(),
		StoreAvgNanos:  b.avgNanos(&b.StoreTotalNanos, &b.StoreCount),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.avgNanos(&b.SearchTotalNanos, &b.SearchCount),
		SearchScanned:  b.SearchScanned.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		SnapshotCount:  b.SnapshotCount.Load(),
		SnapshotErrors: b.SnapshotErrors.Load(),
		CompactCount:   b.CompactCount.Load(),
		CompactRemoved: b.CompactRemoved.Load(),
	}
}

func (b *BasicMetricsCollector) avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StoreCount     int64
	StoreErrors    int64
	StoreAvgNanos  int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	SearchScanned  int64
	DeleteCount    int64
	DeleteErrors   int64
	SnapshotCount  int64
	SnapshotErrors int64
	CompactCount   int64
	CompactRemoved int64
}
