// Package logger provides structured logging setup for resourcehub.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/orchestr8/resourcehub/internal/config"
)

// New creates a *slog.Logger from the given Logging config. Output is
// JSON to stdout with a "service" attribute on every record. The Closer
// flushes buffered records in async mode; call it at shutdown.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		buffer := cfg.AsyncBuffer
		if buffer <= 0 {
			buffer = 1024
		}
		workers := cfg.AsyncWorkers
		if workers <= 0 {
			workers = 2
		}
		async := NewAsyncHandler(handler, buffer, workers)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
