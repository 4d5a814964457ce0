package aggregation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := NewRegistry(8)

	id, state := r.Create("patient-1")
	require.NotEmpty(t, id)
	assert.Equal(t, "patient-1", state.PatientID)

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, state, got)

	removed, ok := r.Remove(id)
	require.True(t, ok)
	assert.Same(t, state, removed)

	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestRegistry_Remove_OnlyOneWinnerAcrossRacers(t *testing.T) {
	r := NewRegistry(8)
	id, _ := r.Create("patient-1")

	var wg sync.WaitGroup
	var wins int
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Remove(id); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRegistry_WasRecentlyTerminated(t *testing.T) {
	r := NewRegistry(8)
	id, _ := r.Create("patient-1")

	assert.False(t, r.WasRecentlyTerminated(id))
	r.Remove(id)
	assert.True(t, r.WasRecentlyTerminated(id))
	assert.False(t, r.WasRecentlyTerminated("unknown-id"))
}

func TestFinalizeWithSummary_EmitsCountersAndRemoves(t *testing.T) {
	r := NewRegistry(8)
	e := NewEmitter(discardLogger())

	id, state := r.Create("patient-1")
	ch, err := state.Subscribe()
	require.NoError(t, err)

	state.RecordCallback(StatusOK)
	state.RecordCallback(StatusTimeout)

	ok := FinalizeWithSummary(r, e, id)
	require.True(t, ok)

	_, exists := r.Get(id)
	assert.False(t, exists)

	var summary *SummaryEvent
	for v := range ch {
		if sv, isSummary := v.(*SummaryEvent); isSummary {
			summary = sv
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Respondents)
	assert.Equal(t, 1, summary.Errors)
}

func TestFinalizeWithSummary_SecondCallIsNoop(t *testing.T) {
	r := NewRegistry(8)
	e := NewEmitter(discardLogger())
	id, _ := r.Create("patient-1")

	assert.True(t, FinalizeWithSummary(r, e, id))
	assert.False(t, FinalizeWithSummary(r, e, id))
}

func TestFinalizeOnDisconnect_ClosesWithoutSummary(t *testing.T) {
	r := NewRegistry(8)
	id, state := r.Create("patient-1")
	ch, err := state.Subscribe()
	require.NoError(t, err)

	ok := FinalizeOnDisconnect(r, id)
	require.True(t, ok)

	for v := range ch {
		_, isSummary := v.(*SummaryEvent)
		assert.False(t, isSummary, "disconnect path must not emit a summary")
	}
	assert.True(t, state.Terminated())
}
