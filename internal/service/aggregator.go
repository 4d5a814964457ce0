// Package service hosts the aggregator facade: a thin orchestration layer
// over a registry that the transport handlers call into, generalized from a Subscribe/Unsubscribe pair over
// a fixed user identity into allocate/dispatch/arm-deadline over a
// freshly-minted correlation id.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anders-malmros-inera/aggregator/config"
	"github.com/anders-malmros-inera/aggregator/internal/deadline"
	"github.com/anders-malmros-inera/aggregator/internal/dispatch"
	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

const (
	StrategySSE             = "SSE"
	StrategyWaitForEveryone = "WAIT_FOR_EVERYONE"
)

// AggregateRequest is the decoded body of POST /aggregate/journals.
type AggregateRequest struct {
	PatientID string `json:"patientId"`
	Delays    string `json:"delays"`
	TimeoutMs int    `json:"timeoutMs"`
	Strategy  string `json:"strategy"`
}

// AggregateResponse is the immediate response to the aggregate request.
// For SSE, Respondents is always 0 and the client opens the stream
// endpoint to consume events. For WAIT_FOR_EVERYONE it carries the fully
// aggregated result.
type AggregateResponse struct {
	Respondents   int                `json:"respondents"`
	CorrelationID string             `json:"correlationId"`
	Strategy      string             `json:"strategy,omitempty"`
	Errors        int                `json:"errors,omitempty"`
	Notes         []aggregation.Note `json:"notes,omitempty"`
}

// Aggregator orchestrates the registry, dispatcher, and deadline
// scheduler behind a single entry point.
type Aggregator struct {
	logger     *slog.Logger
	cfg        *config.Config
	registry   *aggregation.Registry
	emitter    *aggregation.Emitter
	dispatcher *dispatch.Dispatcher
	scheduler  *deadline.Scheduler

	onCreated func()
}

// OnCreated registers a callback fired every time aggregateSSE allocates
// a fresh correlation — wired at the composition root to the active-
// correlations gauge, keeping this package free of any metrics import.
func (a *Aggregator) OnCreated(fn func()) {
	a.onCreated = fn
}

// NewAggregator builds the facade over its collaborators.
func NewAggregator(
	logger *slog.Logger,
	cfg *config.Config,
	registry *aggregation.Registry,
	emitter *aggregation.Emitter,
	dispatcher *dispatch.Dispatcher,
	scheduler *deadline.Scheduler,
) *Aggregator {
	return &Aggregator{
		logger:     logger,
		cfg:        cfg,
		registry:   registry,
		emitter:    emitter,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}
}

// Registry exposes the registry directly for the stream endpoint, whose
// subscribe path reads straight off a correlation's channel and bypasses
// the facade entirely.
func (a *Aggregator) Registry() *aggregation.Registry { return a.registry }

// Aggregate allocates a correlation, fans the dispatch group out, arms
// the expected count and the deadline, and returns the correlation id
// for the client to subscribe to. For WAIT_FOR_EVERYONE it instead
// blocks for the synchronous fan-out and returns the aggregated payload
// directly.
func (a *Aggregator) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateResponse, error) {
	delays := dispatch.ParseDelays(req.Delays)
	effectiveDeadline := a.effectiveDeadline(req.TimeoutMs)

	if req.Strategy == StrategyWaitForEveryone {
		return a.aggregateWaitForEveryone(ctx, req, delays, effectiveDeadline)
	}
	return a.aggregateSSE(req, delays, effectiveDeadline)
}

func (a *Aggregator) aggregateSSE(req AggregateRequest, delays []int, effectiveDeadline time.Duration) (*AggregateResponse, error) {
	id, state := a.registry.Create(req.PatientID)
	if a.onCreated != nil {
		a.onCreated()
	}

	cancel := a.dispatcher.Run(state, req.PatientID, delays, effectiveDeadline, func(ev *aggregation.CallbackEvent) {
		a.HandleCallback(ev)
	})
	state.ArmDispatchCancel(cancel)

	// setExpected may race with dispatch synthetics that already pushed
	// received past the crossing point.
	terminate, err := state.SetExpected(a.dispatcher.BackendCount())
	if err != nil {
		// Should not happen outside a programming error: log and continue,
		// counters stay valid.
		a.logger.Error("aggregator: setExpected rejected", "correlation_id", id, "err", err)
	}

	if terminate {
		aggregation.FinalizeWithSummary(a.registry, a.emitter, id)
	} else {
		h := a.scheduler.Schedule(id, effectiveDeadline)
		state.ArmDeadline(func() bool { return h.Cancel() })
	}

	return &AggregateResponse{
		Respondents:   0,
		CorrelationID: id,
		Strategy:      req.Strategy,
	}, nil
}

func (a *Aggregator) aggregateWaitForEveryone(ctx context.Context, req AggregateRequest, delays []int, effectiveDeadline time.Duration) (*AggregateResponse, error) {
	results, err := a.dispatcher.RunDirect(ctx, req.PatientID, delays, effectiveDeadline)
	if err != nil {
		return nil, fmt.Errorf("aggregator: wait-for-everyone dispatch failed: %w", err)
	}

	var respondents, errs int
	var notes []aggregation.Note
	for _, r := range results {
		switch r.Event.Status {
		case aggregation.StatusOK:
			respondents++
			notes = append(notes, r.Event.Notes...)
		case aggregation.StatusRejected:
			// Rejections contribute to neither respondents nor errors.
		default:
			errs++
		}
	}

	return &AggregateResponse{
		Respondents:   respondents,
		CorrelationID: uuid.NewString(),
		Strategy:      req.Strategy,
		Errors:        errs,
		Notes:         notes,
	}, nil
}

// HandleCallback applies one backend outcome — whether a real callback or
// a dispatch-time synthetic — to its correlation's state, and finalizes
// the correlation if this call is the one that crosses the expected
// count. Unknown or already-finalized correlations are silently dropped.
func (a *Aggregator) HandleCallback(ev *aggregation.CallbackEvent) {
	state, ok := a.registry.Get(ev.CorrelationID)
	if !ok {
		if a.registry.WasRecentlyTerminated(ev.CorrelationID) {
			a.logger.Debug("aggregator: dropping late callback for finished correlation",
				"correlation_id", ev.CorrelationID, "source", ev.Source)
		} else {
			a.logger.Warn("aggregator: dropping callback for unrecognized correlation",
				"correlation_id", ev.CorrelationID, "source", ev.Source)
		}
		return
	}

	a.emitter.Emit(state, ev)

	if state.RecordCallback(ev.Status) {
		aggregation.FinalizeWithSummary(a.registry, a.emitter, state.ID)
	}
}

// effectiveDeadline clamps the client-requested deadline to the
// configured maximum, with requests exceeding the cap silently clamped
// and logged.
func (a *Aggregator) effectiveDeadline(requestedMs int) time.Duration {
	max := a.cfg.MaxDeadline()
	if requestedMs <= 0 {
		return max
	}
	requested := time.Duration(requestedMs) * time.Millisecond
	if requested > max {
		a.logger.Warn("aggregator: clamping requested deadline to configured max",
			"requested_ms", requestedMs, "max_ms", a.cfg.TimeoutMaxMS)
		return max
	}
	return requested
}
