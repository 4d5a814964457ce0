package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/anders-malmros-inera/aggregator/config"
)

// Module wires every HTTP handler plus the router and listener lifecycle —
// grounded on webitel_clients.Module's fx.Lifecycle OnStop hook pattern,
// adapted from closing a client connection to starting and stopping a
// net/http.Server.
var Module = fx.Module("http",
	fx.Provide(
		NewAggregateHandler,
		NewStreamHandler,
		NewCallbackHandler,
		NewWebRTCHandler,
		NewRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, router http.Handler) {
		server := &http.Server{
			Addr:    ":" + cfg.ServerPort,
			Handler: router,
		}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", server.Addr)
				if err != nil {
					return err
				}
				logger.Info("http: listening", "addr", server.Addr)
				go func() {
					if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
						logger.Error("http: server stopped unexpectedly", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
	}),
)
