// Package logger configures the process-wide slog default.
package logger

import (
	"log/slog"
	"os"
)

// New initializes the default logger: text and DEBUG level during
// development, JSON and INFO when ENV=production.
func New() *slog.Logger {
	var handler slog.Handler
	handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	if os.Getenv("ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
