package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process-wide logger, installs it as slog's default, and
// returns it. Debug level also turns on source locations, which the
// component-scoped loggers inherit.
func Setup(level string) *slog.Logger {
	lvl := ParseLevel(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})
	logger := slog.New(handler).With("service", "larder")
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level. It accepts "debug",
// "info", "warn"/"warning", and "error", case-insensitively; anything else
// falls back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
