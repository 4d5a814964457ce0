// Package pubsub provides the internal event bus: a watermill
// publisher/subscriber pair decoupling summary emission from downstream
// observability consumers. It wraps a message.Publisher behind a
// domain-aware PublishSummary method, backed by watermill's in-process
// gochannel rather than an AMQP broker, since this gateway's registry is
// a single-process singleton with no cross-node fan-out requirement.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

// TopicAggregationCompleted is the topic a SummaryEvent is published to
// once a correlation terminates.
const TopicAggregationCompleted = "aggregation.completed"

// Bus is a process-local publisher/subscriber pair.
type Bus struct {
	channel *gochannel.GoChannel
	logger  *slog.Logger
}

// NewBus constructs the bus. wlogger bridges log/slog into watermill's
// logger interface (watermill.NewSlogLogger); it is built once at the
// composition root and injected here.
func NewBus(logger *slog.Logger, wlogger watermill.LoggerAdapter) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlogger)
	return &Bus{channel: ch, logger: logger}
}

// Publisher exposes the bus as a watermill message.Publisher.
func (b *Bus) Publisher() message.Publisher { return b.channel }

// Subscriber exposes the bus as a watermill message.Subscriber.
func (b *Bus) Subscriber() message.Subscriber { return b.channel }

// PublishSummary marshals and publishes a terminal SummaryEvent.
func (b *Bus) PublishSummary(ctx context.Context, ev *aggregation.SummaryEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("pubsub: failed to marshal summary", "err", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := b.channel.Publish(TopicAggregationCompleted, msg); err != nil {
		b.logger.Warn("pubsub: failed to publish summary", "correlation_id", ev.CorrelationID, "err", err)
	}
}

// Close releases the underlying channel resources.
func (b *Bus) Close() error {
	if err := b.channel.Close(); err != nil {
		return fmt.Errorf("pubsub: close: %w", err)
	}
	return nil
}
