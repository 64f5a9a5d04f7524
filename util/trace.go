package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Trace logs msg and returns a func that logs the elapsed time.
//
//	defer util.Trace("remove background")()
func Trace(msg string) func() {
	start := time.Now()
	slog.Debug("start " + msg)
	return func() {
		slog.Info(msg, "elapsed", time.Since(start).Round(time.Millisecond))
	}
}

// SetupLogger installs a text slog handler on stderr as the default logger.
func SetupLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

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
