package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/anders-malmros-inera/aggregator/config"
)

// ProvideLogger builds the process-wide structured logger: JSON by
// default, a human-readable text handler when LogFormat is "text". Built once at the
// composition root and passed down, rather than reached for as a
// package-level global.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// ProvideWatermillLogger bridges the process logger into watermill's
// logging interface for the internal event bus.
func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
