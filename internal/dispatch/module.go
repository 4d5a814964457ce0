package dispatch

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/anders-malmros-inera/aggregator/config"
)

// Module wires the dispatcher into the fx graph.
var Module = fx.Module("dispatch",
	fx.Provide(func(cfg *config.Config, logger *slog.Logger) *Dispatcher {
		return NewDispatcher(logger, cfg.ResourceURLs, cfg.CallbackURL)
	}),
)
