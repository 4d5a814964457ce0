package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-malmros-inera/aggregator/config"
	"github.com/anders-malmros-inera/aggregator/internal/deadline"
	"github.com/anders-malmros-inera/aggregator/internal/dispatch"
	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T, backends []string, maxMs int) *Aggregator {
	t.Helper()
	logger := discardLogger()
	cfg := &config.Config{TimeoutMaxMS: maxMs, CallbackURL: "http://gateway/aggregate/callback"}
	registry := aggregation.NewRegistry(16)
	emitter := aggregation.NewEmitter(logger)
	dispatcher := dispatch.NewDispatcher(logger, backends, cfg.CallbackURL)
	scheduler := deadline.NewScheduler(logger, registry, emitter)
	return NewAggregator(logger, cfg, registry, emitter, dispatcher, scheduler)
}

// A backend accepts dispatch (2xx), then a real callback arrives ok —
// the correlation terminates with the callback counted as a respondent.
func TestAggregator_SSE_AllAccept_ThenCallbacksComplete(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	agg := newTestAggregator(t, []string{backend.URL}, 5000)

	resp, err := agg.Aggregate(context.Background(), AggregateRequest{
		PatientID: "patient-1",
		Delays:    "0",
		Strategy:  StrategySSE,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Respondents)
	assert.NotEmpty(t, resp.CorrelationID)

	state, ok := agg.Registry().Get(resp.CorrelationID)
	require.True(t, ok)

	agg.HandleCallback(&aggregation.CallbackEvent{
		CorrelationID: resp.CorrelationID,
		Status:        aggregation.StatusOK,
	})

	assert.Eventually(t, func() bool {
		_, stillPresent := agg.Registry().Get(resp.CorrelationID)
		return !stillPresent
	}, time.Second, 5*time.Millisecond)
	assert.True(t, state.Terminated())
}

// A dispatch-time 401 synthesizes an immediate REJECTED event with no
// callback expected — this alone crosses expected=1.
func TestAggregator_SSE_DispatchRejection_FinalizesWithoutCallback(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	agg := newTestAggregator(t, []string{backend.URL}, 5000)

	resp, err := agg.Aggregate(context.Background(), AggregateRequest{
		PatientID: "patient-1",
		Delays:    "0",
		Strategy:  StrategySSE,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, stillPresent := agg.Registry().Get(resp.CorrelationID)
		return !stillPresent
	}, time.Second, 5*time.Millisecond)
}

func TestAggregator_WaitForEveryone_AggregatesAllResults(t *testing.T) {
	okBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev := aggregation.CallbackEvent{
			Status: aggregation.StatusOK,
			Notes:  []aggregation.Note{{Note: "hello", PatientID: "patient-1"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ev)
	}))
	defer okBackend.Close()

	rejectBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejectBackend.Close()

	agg := newTestAggregator(t, []string{okBackend.URL, rejectBackend.URL}, 5000)

	resp, err := agg.Aggregate(context.Background(), AggregateRequest{
		PatientID: "patient-1",
		Delays:    "0,0",
		Strategy:  StrategyWaitForEveryone,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Respondents)
	assert.Equal(t, 0, resp.Errors)
	assert.Len(t, resp.Notes, 1)
}

func TestAggregator_EffectiveDeadline_ClampsToConfiguredMax(t *testing.T) {
	agg := newTestAggregator(t, []string{"http://unused"}, 5000)

	assert.Equal(t, 5*time.Second, agg.effectiveDeadline(0))
	assert.Equal(t, 2*time.Second, agg.effectiveDeadline(2000))
	assert.Equal(t, 5*time.Second, agg.effectiveDeadline(60000))
}

func TestAggregator_HandleCallback_UnknownCorrelationIsDropped(t *testing.T) {
	agg := newTestAggregator(t, []string{"http://unused"}, 5000)

	assert.NotPanics(t, func() {
		agg.HandleCallback(&aggregation.CallbackEvent{CorrelationID: "does-not-exist", Status: aggregation.StatusOK})
	})
}
