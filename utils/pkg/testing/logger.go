package feewardtesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger for tests, quiet unless DEBUG is set.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromEnv(os.Getenv("DEBUG"))}))
}

// levelFromEnv maps DEBUG to a level: "1" is info, "2" is debug, and slog
// level names such as "warn" are taken as-is. Anything else prints errors
// only.
func levelFromEnv(v string) slog.Level {
	switch v {
	case "2":
		return slog.LevelDebug
	case "1":
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelError
	}
	return level
}
