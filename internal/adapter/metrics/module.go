package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/anders-malmros-inera/aggregator/internal/dispatch"
	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
	"github.com/anders-malmros-inera/aggregator/internal/service"
)

// Module wires the metrics Recorder into the fx graph, registers it as an
// aggregation.Emitter observer (mirroring A7's pubsub.Module wiring — a
// second, independent consumer of the same completion hook), and hooks the
// dispatcher's per-outcome callback plus the facade's per-creation callback.
var Module = fx.Module("metrics",
	fx.Provide(NewRecorder),

	fx.Invoke(func(lc fx.Lifecycle, recorder *Recorder, emitter *aggregation.Emitter, dispatcher *dispatch.Dispatcher, aggregator *service.Aggregator) {
		emitter.AddObserver(recorder.Completed)
		dispatcher.OnOutcome(func(status aggregation.Status) {
			recorder.DispatchOutcome(context.Background(), status)
		})
		aggregator.OnCreated(func() {
			recorder.Created(context.Background())
		})

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return recorder.Close(ctx)
			},
		})
	}),
)
