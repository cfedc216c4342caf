package utils

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide slog.Logger for the diagnosis engine.
// Level names are matched case-insensitively; unknown names fall back to
// info so a config typo never silences logging.
func NewLogger(level string, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
