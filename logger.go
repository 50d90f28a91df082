package docstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with docstore-specific helpers.
// This provides structured logging with consistent field names.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogWrite logs a write operation on a collection.
func (l *Logger) LogWrite(ctx context.Context, op, collection string, docs, affected int, duration time.Duration, err error) {
	cl := l.WithCollection(collection)
	if err != nil {
		cl.ErrorContext(ctx, op+" failed",
			"docs", docs,
			"duration", duration,
			"error", err,
		)
	} else {
		cl.DebugContext(ctx, op+" completed",
			"docs", docs,
			"affected", affected,
			"duration", duration,
		)
	}
}

// LogCommit logs the outcome of a caller-driven transaction.
func (l *Logger) LogCommit(ctx context.Context, duration time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "transaction failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "transaction committed",
			"duration", duration,
		)
	}
}

// LogOpen logs opening a database.
func (l *Logger) LogOpen(ctx context.Context, backend string, collections int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"backend", backend,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "database opened",
			"backend", backend,
			"collections", collections,
		)
	}
}
