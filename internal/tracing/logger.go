package tracing

import (
	"log/slog"
	"os"
)

// NewLogger returns a JSON slog.Logger writing to stdout, at Debug level
// in "dev" and Info otherwise.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewTraceHandler(handler))
}
