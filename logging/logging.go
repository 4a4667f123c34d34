// Package logging provides the shared structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Configure initializes the shared JSON logger at the given level. It is
// safe to call multiple times; only the first call takes effect.
func Configure(level string) *slog.Logger {
	once.Do(func() {
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
		logger = slog.New(handler)
	})
	return logger
}

// Logger returns the configured logger, configuring it at info level on
// first use if necessary.
func Logger() *slog.Logger {
	if logger == nil {
		return Configure("info")
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
