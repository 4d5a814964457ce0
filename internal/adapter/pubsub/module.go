package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

// Module wires the internal event bus, hooks the aggregation emitter's
// summary callback into it, and runs a structured-logging subscriber —
// both building the publisher and registering a lifecycle hook that
// runs the subscriber loop.
var Module = fx.Module("pubsub",
	fx.Provide(NewBus),

	fx.Invoke(func(lc fx.Lifecycle, bus *Bus, emitter *aggregation.Emitter, logger *slog.Logger) {
		emitter.AddObserver(func(_ *aggregation.State, ev *aggregation.SummaryEvent) {
			bus.PublishSummary(context.Background(), ev)
		})

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				messages, err := bus.Subscriber().Subscribe(ctx, TopicAggregationCompleted)
				if err != nil {
					return err
				}
				go logSummaries(messages, logger)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return bus.Close()
			},
		})
	}),
)

// logSummaries consumes the bus and emits one structured log line per
// completed correlation — a standalone subscriber deliberately decoupled
// from the emitter, so a slow or misbehaving log sink can never apply
// backpressure to event emission itself.
func logSummaries(messages <-chan *message.Message, logger *slog.Logger) {
	for msg := range messages {
		var ev aggregation.SummaryEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			logger.Error("pubsub: failed to decode summary", "err", err)
			msg.Ack()
			continue
		}
		logger.Info("aggregation completed",
			"correlation_id", ev.CorrelationID,
			"respondents", ev.Respondents,
			"errors", ev.Errors,
		)
		msg.Ack()
	}
}
