package aggregation

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidState is returned by SetExpected when called more than once, or
// with a non-positive count.
var ErrInvalidState = errors.New("aggregation: invalid state transition")

// ErrConflict is returned by Subscribe when a subscriber is already attached.
var ErrConflict = errors.New("aggregation: correlation already has a subscriber")

// CancelFunc cancels an in-flight capability. Idempotent.
type CancelFunc func()

// State is the per-correlation aggregation record. Counters are atomic
// so dispatch synthetics, callback handlers, and the deadline firing may
// all touch a single State concurrently without a lock spanning the
// whole value — atomic counters, a mailbox channel, a guarded close.
type State struct {
	ID        string
	PatientID string
	CreatedAt time.Time

	expected    int32 // 0 means "not yet set"
	received    int32
	respondents int32
	errorsCount int32

	terminated atomic.Bool
	subscribed atomic.Bool

	eventCh chan any // carries *CallbackEvent and, last, *SummaryEvent
	emitMu  sync.RWMutex
	closed  bool

	cancelMu       sync.Mutex
	dispatchCancel CancelFunc
	deadlineCancel func() bool // returns false if already fired
}

// NewState allocates a fresh, non-terminated aggregation record.
func NewState(id, patientID string, bufferSize int) *State {
	return &State{
		ID:        id,
		PatientID: patientID,
		CreatedAt: time.Now(),
		eventCh:   make(chan any, bufferSize),
	}
}

// SetExpected sets the expected backend count exactly once. If callbacks
// already observed before this call already reached n, it reports that
// termination must be triggered by the caller — dispatch synthetics may
// complete before SetExpected runs.
func (s *State) SetExpected(n int) (terminate bool, err error) {
	if n < 1 {
		return false, ErrInvalidState
	}
	if !atomic.CompareAndSwapInt32(&s.expected, 0, int32(n)) {
		return false, ErrInvalidState
	}
	return s.maybeClaimTermination(), nil
}

// Expected returns the configured expected count, or 0 if not yet set.
func (s *State) Expected() int { return int(atomic.LoadInt32(&s.expected)) }

// Counters returns a consistent-enough snapshot of (received, respondents, errors).
func (s *State) Counters() (received, respondents, errs int) {
	return int(atomic.LoadInt32(&s.received)),
		int(atomic.LoadInt32(&s.respondents)),
		int(atomic.LoadInt32(&s.errorsCount))
}

// RecordCallback applies one backend outcome to the counters. The
// returned terminate flag is authoritative: across every concurrent
// caller, exactly one ever sees true for a given correlation.
func (s *State) RecordCallback(status Status) (terminate bool) {
	atomic.AddInt32(&s.received, 1)
	switch {
	case status.IsRespondent():
		atomic.AddInt32(&s.respondents, 1)
	case status.IsTechnicalFailure():
		atomic.AddInt32(&s.errorsCount, 1)
	}
	return s.maybeClaimTermination()
}

// maybeClaimTermination reports whether expected>0 and received>=expected
// have crossed, claiming the single authoritative "terminate" decision via
// the CAS on terminated — never re-announcing a crossing already claimed.
func (s *State) maybeClaimTermination() bool {
	expected := atomic.LoadInt32(&s.expected)
	if expected == 0 {
		return false
	}
	if atomic.LoadInt32(&s.received) < expected {
		return false
	}
	return s.ClaimTermination()
}

// ClaimTermination performs the single false->true transition. Safe to
// call from the deadline fire path, the disconnect path, or a crossing
// callback — only the first caller gets true.
func (s *State) ClaimTermination() bool {
	return s.terminated.CompareAndSwap(false, true)
}

// Terminated reports whether this correlation has already been claimed as
// terminal, regardless of by whom.
func (s *State) Terminated() bool {
	return s.terminated.Load()
}

// ArmDispatchCancel stores the dispatch group's cancellation capability.
func (s *State) ArmDispatchCancel(cancel CancelFunc) {
	s.cancelMu.Lock()
	s.dispatchCancel = cancel
	s.cancelMu.Unlock()
}

// ArmDeadline stores the deadline's cancellation capability. fn returns
// false if the deadline had already fired.
func (s *State) ArmDeadline(fn func() bool) {
	s.cancelMu.Lock()
	s.deadlineCancel = fn
	s.cancelMu.Unlock()
}

// CancelAll invokes both cancellation capabilities if present. Safe to
// call after either (or both) has already fired — cancellation handles
// are themselves single-shot.
func (s *State) CancelAll() {
	s.cancelMu.Lock()
	dispatchCancel := s.dispatchCancel
	deadlineCancel := s.deadlineCancel
	s.cancelMu.Unlock()

	if dispatchCancel != nil {
		dispatchCancel()
	}
	if deadlineCancel != nil {
		deadlineCancel()
	}
}

// Subscribe attaches the sole permitted reader of the event channel. A
// second attempt returns ErrConflict rather than displacing the first.
func (s *State) Subscribe() (<-chan any, error) {
	if !s.subscribed.CompareAndSwap(false, true) {
		return nil, ErrConflict
	}
	return s.eventCh, nil
}

// trySend makes one non-blocking attempt to push v onto the event channel,
// under the read side of emitMu so it can never race with Close. Reports
// false both on a full channel and on an already-closed one.
func (s *State) trySend(v any) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.eventCh <- v:
		return true
	default:
		return false
	}
}

// Close closes the event channel exactly once. Must only be called by
// the registry's remove-winner: after the summary has been pushed, or,
// on the disconnect path, with no summary at all.
func (s *State) Close() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	close(s.eventCh)
	s.closed = true
}
