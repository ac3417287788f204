// Package logging builds the structured loggers shared by the API, the
// worker and the indexer. Output is JSON on stdout so the three processes
// aggregate into one stream.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger returns a slog logger tagged with the service name. The
// returned logger is also installed as the process default so package-level
// slog calls in the middleware layer share the same handler.
func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
