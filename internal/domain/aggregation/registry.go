package aggregation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
)

// recentlyTerminatedSize bounds the diagnostic LRU below, trading a small
// fixed memory footprint for the ability to tell a late-but-expected
// duplicate callback apart from a genuinely bogus correlation id in logs.
const recentlyTerminatedSize = 10000

// Registry maps correlation ids to live aggregation state: a concurrent
// map keyed by identity with atomic create/lookup/remove. An entry is
// never idle-evicted by a background janitor — a correlation's sole
// reclaimer is the deadline scheduler or an explicit termination path,
// so there is no ticker-driven eviction loop here.
type Registry struct {
	states sync.Map // string -> *State

	defaultBufferSize int

	// recentlyTerminated remembers recently-removed correlation ids so a
	// late callback for an already-finished run can be logged as an
	// expected straggler rather than an unexplained unknown-id drop. A
	// small negative/diagnostic LRU rather than a positive lookup cache.
	recentlyTerminated *lru.Cache[string, struct{}]
}

// NewRegistry constructs an empty registry. bufferSize sizes every new
// correlation's event channel.
func NewRegistry(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	cache, _ := lru.New[string, struct{}](recentlyTerminatedSize)
	return &Registry{defaultBufferSize: bufferSize, recentlyTerminated: cache}
}

// Create allocates a fresh correlation id and state, and inserts it
// atomically — no other caller can observe or create the same id first.
func (r *Registry) Create(patientID string) (id string, state *State) {
	id = uuid.NewString()
	state = NewState(id, patientID, r.defaultBufferSize)
	r.states.Store(id, state)
	return id, state
}

// Get performs a non-mutating lookup.
func (r *Registry) Get(id string) (*State, bool) {
	v, ok := r.states.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*State), true
}

// Remove is the atomic remove-and-return that serializes termination: of
// every caller racing to finalize a correlation — a crossing callback, a
// firing deadline, a client disconnect — only the one whose Remove
// returns a non-nil state is authorized to emit the summary, cancel the
// deadline, and close the channel.
func (r *Registry) Remove(id string) (*State, bool) {
	v, ok := r.states.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.recentlyTerminated.Add(id, struct{}{})
	return v.(*State), true
}

// WasRecentlyTerminated reports whether id was removed recently enough to
// still be in the diagnostic cache — used to distinguish an expected
// straggler callback from a genuinely unrecognized correlation id.
func (r *Registry) WasRecentlyTerminated(id string) bool {
	return r.recentlyTerminated.Contains(id)
}

// Len reports the number of live correlations, for metrics.
func (r *Registry) Len() int {
	n := 0
	r.states.Range(func(_, _ any) bool { n++; return true })
	return n
}
