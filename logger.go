package edgevec

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with edgevec-specific field helpers.
// Engine components receive one at construction; nil means no logging.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger from a slog handler. A nil handler falls back
// to an info-level text handler on stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that emits JSON records at the given level.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that emits human-readable text at the given
// level.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	// Unreachable level: nothing ever passes the filter.
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// WithCollection returns a Logger whose records carry the collection name.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{Logger: l.Logger.With("collection", name)}
}
