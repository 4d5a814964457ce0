package aggregation

// FinalizeWithSummary is the termination path used by a crossing callback
// or a firing deadline: the caller must already have won the
// counting-side termination claim (RecordCallback/SetExpected returned
// terminate=true, or the deadline called ClaimTermination itself).
// Remove is still the true cross-path serialization point — exactly one
// Registry.Remove call ever returns ok=true for a given id, even if two
// owners raced here.
func FinalizeWithSummary(r *Registry, e *Emitter, id string) bool {
	state, ok := r.Remove(id)
	if !ok {
		return false
	}
	state.CancelAll()
	_, respondents, errs := state.Counters()
	e.EmitSummary(state, respondents, errs)
	return true
}

// FinalizeOnDisconnect is the termination path used when the stream
// endpoint detects the client is gone: dispatch and deadline are
// cancelled, the registry entry is removed, and the channel is closed
// without ever producing a SummaryEvent — there is nobody left to read it.
func FinalizeOnDisconnect(r *Registry, id string) bool {
	state, ok := r.Remove(id)
	if !ok {
		return false
	}
	state.ClaimTermination()
	state.CancelAll()
	state.Close()
	return true
}
