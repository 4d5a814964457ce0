package signaling

import (
	"context"

	"go.uber.org/fx"
)

// Module wires the signaling session manager into the fx graph and tears
// it down on shutdown by cancelling deadlines and closing channels.
var Module = fx.Module("signaling",
	fx.Provide(NewManager),

	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				m.Close()
				return nil
			},
		})
	}),
)
