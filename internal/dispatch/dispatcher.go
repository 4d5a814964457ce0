// Package dispatch implements the fan-out to backend resources and the
// translation of dispatch-time outcomes into synthetic events. It fans
// concurrent lookups out via golang.org/x/sync/errgroup, generalized
// from a pair of fixed lookups to N backend dispatches.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

// payload is the body the gateway posts to a backend at dispatch time.
type payload struct {
	PatientID     string `json:"patientId"`
	Delay         int    `json:"delay"`
	CallbackURL   string `json:"callbackUrl"`
	CorrelationID string `json:"correlationId"`
}

// Dispatcher fans a correlation's dispatch out to the fixed backend list.
type Dispatcher struct {
	logger      *slog.Logger
	backends    []string
	callbackURL string

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	onOutcome func(aggregation.Status)
}

// NewDispatcher builds a Dispatcher over the configured backend list,
// with one circuit breaker per backend.
func NewDispatcher(logger *slog.Logger, backends []string, callbackURL string) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		backends:    backends,
		callbackURL: callbackURL,
		breakers:    make(map[string]*gobreaker.CircuitBreaker, len(backends)),
	}
}

// OnOutcome registers a callback invoked with the status of every
// dispatch-time synthetic event and every WAIT_FOR_EVERYONE direct result.
// An accepted (2xx) SSE dispatch and the callback that later arrives for
// it are not reported. Wired at the composition root to the metrics
// recorder, keeping this package free of any metrics import.
func (d *Dispatcher) OnOutcome(fn func(aggregation.Status)) {
	d.onOutcome = fn
}

func (d *Dispatcher) reportOutcome(status aggregation.Status) {
	if d.onOutcome != nil {
		d.onOutcome(status)
	}
}

// BackendCount returns N, the fixed number of dispatch slots — and
// therefore the correlation's `expected` count for the whole run.
func (d *Dispatcher) BackendCount() int { return len(d.backends) }

// ParseDelays parses a comma-separated per-backend delay list. Missing
// or malformed entries default to 0; this function never errors,
// tolerating garbage input rather than rejecting the request over it.
func ParseDelays(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

func (d *Dispatcher) breakerFor(backend string) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	b, ok := d.breakers[backend]
	if !ok {
		b = newBreaker(backend, d.logger)
		d.breakers[backend] = b
	}
	return b
}

// Run fans the dispatch group out across goroutines, one per slot, and
// returns a cancellation capability covering every in-flight call. Each
// dispatch-time outcome is translated and pushed through emit.
func (d *Dispatcher) Run(state *aggregation.State, patientID string, delays []int, deadline time.Duration, emit func(*aggregation.CallbackEvent)) aggregation.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	n := d.BackendCount()
	for i := 0; i < n; i++ {
		delay := 0
		if i < len(delays) {
			delay = delays[i]
		}
		backend := d.backends[i%len(d.backends)]
		go d.dispatchOne(ctx, state.ID, backend, patientID, delay, deadline, emit)
	}

	return func() { cancel() }
}

func (d *Dispatcher) dispatchOne(ctx context.Context, correlationID, backend, patientID string, delay int, deadline time.Duration, emit func(*aggregation.CallbackEvent)) {
	ev := d.call(ctx, correlationID, backend, patientID, delay, deadline)
	if ev != nil {
		d.reportOutcome(ev.Status)
		emit(ev)
	}
}

// call issues the dispatch request and translates its outcome. A nil
// return means the backend accepted the request (2xx) and a real
// callback is expected later.
func (d *Dispatcher) call(ctx context.Context, correlationID, backend, patientID string, delay int, deadline time.Duration) *aggregation.CallbackEvent {
	body, err := json.Marshal(payload{
		PatientID:     patientID,
		Delay:         delay,
		CallbackURL:   d.callbackURL,
		CorrelationID: correlationID,
	})
	if err != nil {
		return synthetic(backend, patientID, correlationID, aggregation.StatusError)
	}

	client := &http.Client{Timeout: deadline}
	breaker := d.breakerFor(backend)

	result, err := breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend+"/dispatch", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	})

	if err != nil {
		return synthetic(backend, patientID, correlationID, classifyError(ctx, err))
	}

	status := result.(int)
	switch {
	case status >= 200 && status < 300:
		return nil // accepted; a real callback follows asynchronously
	case status == http.StatusUnauthorized:
		return synthetic(backend, patientID, correlationID, aggregation.StatusRejected)
	default:
		return synthetic(backend, patientID, correlationID, aggregation.StatusError)
	}
}

func synthetic(backend, patientID, correlationID string, status aggregation.Status) *aggregation.CallbackEvent {
	return &aggregation.CallbackEvent{
		Source:        backend,
		PatientID:     patientID,
		CorrelationID: correlationID,
		Status:        status,
	}
}

// classifyError maps a transport-layer failure onto the wire-visible
// status taxonomy.
func classifyError(ctx context.Context, err error) aggregation.Status {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return aggregation.StatusError
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return aggregation.StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return aggregation.StatusTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return aggregation.StatusConnectionClosed
	}
	return aggregation.StatusError
}

// DirectResult is the payload synthesized for the WAIT_FOR_EVERYONE
// strategy's synchronous fan-out: a direct variant of each backend call
// that returns the full result body instead of deferring to a callback.
type DirectResult struct {
	Backend string
	Event   *aggregation.CallbackEvent
}

// RunDirect performs the synchronous, WAIT_FOR_EVERYONE variant: one
// blocking call per backend, all run concurrently via errgroup, the
// facade waits for every one of them before returning.
func (d *Dispatcher) RunDirect(ctx context.Context, patientID string, delays []int, deadline time.Duration) ([]DirectResult, error) {
	n := d.BackendCount()
	results := make([]DirectResult, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		delay := 0
		if i < len(delays) {
			delay = delays[i]
		}
		backend := d.backends[i%len(d.backends)]
		g.Go(func() error {
			ev := d.callDirect(gctx, backend, patientID, delay, deadline)
			d.reportOutcome(ev.Status)
			results[i] = DirectResult{Backend: backend, Event: ev}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dispatch: direct fan-out failed: %w", err)
	}
	return results, nil
}

// callDirect mirrors call's outcome classification, but for the
// synchronous /dispatch-direct endpoint whose 2xx body carries the full
// result (including notes) rather than deferring to an async callback.
func (d *Dispatcher) callDirect(ctx context.Context, backend, patientID string, delay int, deadline time.Duration) *aggregation.CallbackEvent {
	body, err := json.Marshal(payload{PatientID: patientID, Delay: delay})
	if err != nil {
		return synthetic(backend, patientID, "", aggregation.StatusError)
	}

	client := &http.Client{Timeout: deadline}
	breaker := d.breakerFor(backend)

	result, err := breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend+"/dispatch-direct", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return &aggregation.CallbackEvent{Source: backend, PatientID: patientID, Status: aggregation.StatusRejected}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &aggregation.CallbackEvent{Source: backend, PatientID: patientID, Status: aggregation.StatusError}, nil
		}

		var ev aggregation.CallbackEvent
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return &aggregation.CallbackEvent{Source: backend, PatientID: patientID, Status: aggregation.StatusError}, nil
		}
		ev.Source = backend
		ev.Status = aggregation.StatusOK
		return &ev, nil
	})

	if err != nil {
		return synthetic(backend, patientID, "", classifyError(ctx, err))
	}
	return result.(*aggregation.CallbackEvent)
}
