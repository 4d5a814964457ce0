// Package deadline implements the per-correlation callback-waiting
// deadline: the gateway gives the backend group a fixed window to
// respond and, if it runs out, fills in the missing slots itself.
package deadline

import (
	"log/slog"
	"time"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

// Handle is the cancellation capability for a scheduled deadline.
// Cancel is idempotent and reports whether it successfully prevented the
// fire, collapsed here from a recurring ticker into a one-shot timer
// since a correlation's deadline fires at most once.
type Handle interface {
	// Cancel prevents a still-pending deadline from firing. Returns true
	// if it successfully prevented the fire, false if the deadline had
	// already fired (or was already cancelled).
	Cancel() bool
}

type handle struct {
	timer *time.Timer
}

func (h *handle) Cancel() bool { return h.timer.Stop() }

// Scheduler arms one-shot, cancellable per-correlation deadlines.
type Scheduler struct {
	logger   *slog.Logger
	registry *aggregation.Registry
	emitter  *aggregation.Emitter
}

// NewScheduler builds a Scheduler bound to the shared registry and emitter.
func NewScheduler(logger *slog.Logger, registry *aggregation.Registry, emitter *aggregation.Emitter) *Scheduler {
	return &Scheduler{logger: logger, registry: registry, emitter: emitter}
}

// Schedule arms a deadline for correlation id that fires after d. On
// fire, it revalidates the correlation via the registry — if it is
// already gone (finalized by a callback crossing or a disconnect), the
// cancel handle's return value is never relied on for correctness, only
// this revalidation is.
func (s *Scheduler) Schedule(id string, d time.Duration) Handle {
	t := time.AfterFunc(d, func() {
		s.fire(id)
	})
	return &handle{timer: t}
}

// fire emits one synthetic TIMEOUT event per backend slot that never
// responded, so a stream consumer sees the same per-backend status
// sequence it would have seen had those backends answered with an error,
// before the terminal summary closes the channel.
func (s *Scheduler) fire(id string) {
	state, ok := s.registry.Get(id)
	if !ok {
		return
	}
	if state.Terminated() {
		return
	}

	received, _, _ := state.Counters()
	missing := state.Expected() - received
	for i := 0; i < missing; i++ {
		s.emitter.Emit(state, &aggregation.CallbackEvent{
			CorrelationID: id,
			PatientID:     state.PatientID,
			Status:        aggregation.StatusTimeout,
		})
		state.RecordCallback(aggregation.StatusTimeout)
	}
	state.ClaimTermination()

	if missing > 0 {
		s.logger.Warn("deadline: correlation timed out with missing responses",
			"correlation_id", id, "missing", missing)
	}

	if !aggregation.FinalizeWithSummary(s.registry, s.emitter, id) {
		s.logger.Warn("deadline: fired but correlation was already removed", "correlation_id", id)
	}
}
