package aggregation

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitter_Emit_DropsAfterTermination(t *testing.T) {
	e := NewEmitter(discardLogger())
	s := NewState("c1", "p1", 1)
	ch, err := s.Subscribe()
	require.NoError(t, err)

	s.ClaimTermination()
	e.Emit(s, &CallbackEvent{Status: StatusOK})

	select {
	case ev := <-ch:
		t.Fatalf("expected no event after termination, got %v", ev)
	default:
	}
}

func TestEmitter_EmitSummary_ClosesChannelAndNotifiesObservers(t *testing.T) {
	e := NewEmitter(discardLogger())
	s := NewState("c1", "p1", 4)
	ch, err := s.Subscribe()
	require.NoError(t, err)

	var observed *SummaryEvent
	e.AddObserver(func(st *State, ev *SummaryEvent) {
		observed = ev
		assert.Same(t, s, st)
	})

	e.EmitSummary(s, 2, 1)

	var got *SummaryEvent
	for v := range ch {
		if sv, ok := v.(*SummaryEvent); ok {
			got = sv
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 2, got.Respondents)
	assert.Equal(t, 1, got.Errors)

	require.NotNil(t, observed)
	assert.Equal(t, got, observed)
}

func TestEmitter_MultipleObservers_AllInvoked(t *testing.T) {
	e := NewEmitter(discardLogger())
	s := NewState("c1", "p1", 4)
	_, err := s.Subscribe()
	require.NoError(t, err)

	var calls int
	e.AddObserver(func(*State, *SummaryEvent) { calls++ })
	e.AddObserver(func(*State, *SummaryEvent) { calls++ })

	e.EmitSummary(s, 1, 0)

	assert.Equal(t, 2, calls)
}
