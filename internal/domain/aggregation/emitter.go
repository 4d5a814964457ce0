package aggregation

import (
	"log/slog"
	"sync"
	"time"
)

// Emitter pushes events onto a correlation's bounded channel. A slow or
// absent consumer must never be able to wedge a producer, so a full
// channel gets a small fixed number of short-backoff retries before the
// event is dropped on liveness grounds rather than blocking forever.
type Emitter struct {
	logger *slog.Logger

	maxAttempts int
	backoff     time.Duration

	observersMu sync.Mutex
	observers   []func(*State, *SummaryEvent)
}

// AddObserver registers a callback invoked, with the terminated State and
// its SummaryEvent, every time this emitter completes a correlation — in
// addition to the per-correlation channel push. Used to fan completion
// bookkeeping out to the internal event bus and metrics without this
// package importing either — the composition root wires the callbacks,
// keeping the emitter itself transport-agnostic. Multiple independent
// observers may register.
func (e *Emitter) AddObserver(fn func(*State, *SummaryEvent)) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, fn)
}

// NewEmitter builds an Emitter with a default retry budget: ~50 attempts
// spread over a few tens of milliseconds.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger:      logger,
		maxAttempts: 50,
		backoff:     time.Millisecond,
	}
}

// Emit pushes a single CallbackEvent. On persistent backpressure it drops
// the event and logs a warning rather than blocking the producer.
func (e *Emitter) Emit(s *State, ev *CallbackEvent) {
	if s.Terminated() {
		// No event may be produced once a correlation has terminated.
		return
	}
	if !e.retrySend(s, ev) {
		e.logger.Warn("aggregation: dropping event under sustained backpressure",
			"correlation_id", s.ID, "source", ev.Source, "status", ev.Status)
	}
}

// EmitSummary pushes the terminal SummaryEvent and closes the channel.
// No other event may follow it on the same channel — callers must
// already hold exclusive ownership of termination (i.e. have won
// Registry.Remove) before calling.
func (e *Emitter) EmitSummary(s *State, respondents, errs int) {
	summary := &SummaryEvent{
		CorrelationID: s.ID,
		Status:        StatusComplete,
		Respondents:   respondents,
		Errors:        errs,
	}
	if !e.retrySend(s, summary) {
		e.logger.Warn("aggregation: dropping summary under sustained backpressure",
			"correlation_id", s.ID)
	}
	s.Close()

	e.observersMu.Lock()
	observers := e.observers
	e.observersMu.Unlock()
	for _, fn := range observers {
		fn(s, summary)
	}
}

func (e *Emitter) retrySend(s *State, v any) bool {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if s.trySend(v) {
			return true
		}
		time.Sleep(e.backoff)
	}
	return false
}
