package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin wrapper around slog with key-value call sites.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a text Logger writing to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerWithFormat("text", "info")
}

// NewLoggerWithFormat creates a Logger with the given output format
// ("json" or "text") and minimum level.
func NewLoggerWithFormat(format, level string) *Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}
