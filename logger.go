package snipvec

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with snipvec-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogStore logs a snippet store operation.
func (l *Logger) LogStore(ctx context.Context, id uint64, language string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed",
			"id", id,
			"language", language,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "snippet stored",
			"id", id,
			"language", language,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "snippet deleted",
			"id", id,
		)
	}
}

// LogCompact logs a compaction run.
func (l *Logger) LogCompact(ctx context.Context, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"removed", removed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"removed", removed,
		)
	}
}

// LogSnapshot logs a snapshot save.
func (l *Logger) LogSnapshot(ctx context.Context, dir string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "snapshot saved",
			"dir", dir,
		)
	}
}

// LogRecovery logs artifact reconciliation after a load. Repairs happen when
// the two snapshot artifacts disagree, e.g. after a crash between renames.
func (l *Logger) LogRecovery(ctx context.Context, repaired int) {
	if repaired > 0 {
		l.WarnContext(ctx, "snapshot artifacts disagreed, reconciled on load",
			"repaired_entries", repaired,
		)
	}
}

// LogMirror logs a mirror upload.
func (l *Logger) LogMirror(ctx context.Context, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "mirror upload failed",
			"generation", generation,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "mirror upload completed",
			"generation", generation,
		)
	}
}
