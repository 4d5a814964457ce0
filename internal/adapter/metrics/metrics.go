// Package metrics exposes aggregator observability via OpenTelemetry
// instruments backed by the Prometheus exporter, built on the OTel
// metric API (go.opentelemetry.io/otel/exporters/prometheus) rather
// than hand-registered prometheus.Collector globals.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

const meterName = "github.com/anders-malmros-inera/aggregator"

// Recorder holds the instruments published on GET /metrics.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	dispatchOutcomes   metric.Int64Counter
	correlationsActive metric.Int64UpDownCounter
	correlationMs      metric.Float64Histogram
}

// NewRecorder builds the Prometheus-backed MeterProvider and registers
// three instruments: dispatch outcome counts, an active-correlation
// gauge, and a terminal-duration histogram.
func NewRecorder() (*Recorder, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: new prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	dispatchOutcomes, err := meter.Int64Counter(
		"aggregator_dispatch_outcomes_total",
		metric.WithDescription("Backend dispatch outcomes by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: dispatch outcomes counter: %w", err)
	}

	correlationsActive, err := meter.Int64UpDownCounter(
		"aggregator_correlations_active",
		metric.WithDescription("Correlations currently awaiting termination"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: active correlations counter: %w", err)
	}

	correlationMs, err := meter.Float64Histogram(
		"aggregator_correlation_duration_ms",
		metric.WithDescription("Wall-clock time from correlation creation to termination"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: correlation duration histogram: %w", err)
	}

	return &Recorder{
		provider:           provider,
		dispatchOutcomes:   dispatchOutcomes,
		correlationsActive: correlationsActive,
		correlationMs:      correlationMs,
	}, nil
}

// Created increments the active-correlations gauge. Called from the
// Aggregator facade when a new correlation is registered.
func (r *Recorder) Created(ctx context.Context) {
	r.correlationsActive.Add(ctx, 1)
}

// DispatchOutcome increments the per-status dispatch outcome counter.
// Called from the dispatcher for every dispatch-time synthetic event and
// every direct result; real callbacks after an accepted dispatch are not
// counted.
func (r *Recorder) DispatchOutcome(ctx context.Context, status aggregation.Status) {
	r.dispatchOutcomes.Add(ctx, 1, metric.WithAttributes(statusAttr(status)))
}

// Completed is registered as an aggregation.Emitter observer: it
// decrements the active gauge and records the terminal correlation's
// lifetime, using State.CreatedAt rather than anything carried on the
// wire-format SummaryEvent.
func (r *Recorder) Completed(s *aggregation.State, _ *aggregation.SummaryEvent) {
	ctx := context.Background()
	r.correlationsActive.Add(ctx, -1)
	r.correlationMs.Record(ctx, float64(time.Since(s.CreatedAt).Milliseconds()))
}

// Close flushes and shuts down the underlying MeterProvider.
func (r *Recorder) Close(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

func statusAttr(status aggregation.Status) attribute.KeyValue {
	return attribute.String("status", string(status))
}
