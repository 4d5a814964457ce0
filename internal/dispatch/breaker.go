package dispatch

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker is constructed once per backend and reused across every
// correlation's dispatch to it: circuit breaker state is per-backend,
// not per-correlation, so a backend already known bad stays known bad
// for the next request.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dispatch: backend circuit breaker state change",
				"backend", name, "from", from.String(), "to", to.String())
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
