package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseDelays(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []int
	}{
		{"empty string", "", nil},
		{"single value", "1000", []int{1000}},
		{"multiple values", "1000,2000,3000", []int{1000, 2000, 3000}},
		{"negative value (dispatch-time rejection signal)", "1000,2000,-1", []int{1000, 2000, -1}},
		{"malformed entry defaults to zero", "1000,abc,3000", []int{1000, 0, 3000}},
		{"whitespace is trimmed", " 1000 , 2000 ", []int{1000, 2000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDelays(tt.raw))
		})
	}
}

func TestDispatcher_BackendCount(t *testing.T) {
	d := NewDispatcher(discardLogger(), []string{"http://a", "http://b", "http://c"}, "http://cb")
	assert.Equal(t, 3, d.BackendCount())
}

func TestClassifyError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tests := []struct {
		name     string
		ctx      context.Context
		err      error
		expected string
	}{
		{"breaker open", context.Background(), gobreaker.ErrOpenState, "ERROR"},
		{"too many requests", context.Background(), gobreaker.ErrTooManyRequests, "ERROR"},
		{"deadline exceeded", context.Background(), context.DeadlineExceeded, "TIMEOUT"},
		{"net timeout", context.Background(), &net.DNSError{IsTimeout: true}, "TIMEOUT"},
		{"connection refused", context.Background(), &net.OpError{Op: "dial", Err: errors.New("refused")}, "CONNECTION_CLOSED"},
		{"generic error", context.Background(), errors.New("boom"), "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.ctx, tt.err)
			assert.Equal(t, tt.expected, string(got))
		})
	}

	cancel()
	t.Run("cancelled context", func(t *testing.T) {
		got := classifyError(ctx, errors.New("request canceled"))
		assert.Equal(t, "TIMEOUT", string(got))
	})
}

func TestSynthetic(t *testing.T) {
	ev := synthetic("http://backend-1", "patient-1", "corr-1", "REJECTED")
	assert.Equal(t, "http://backend-1", ev.Source)
	assert.Equal(t, "patient-1", ev.PatientID)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.EqualValues(t, "REJECTED", ev.Status)
}
