package aggregation

import "go.uber.org/fx"

// DefaultBufferSize is the per-correlation event channel capacity.
const DefaultBufferSize = 64

// Module wires the correlation registry and event emitter into the fx
// graph.
var Module = fx.Module("aggregation",
	fx.Provide(
		func() *Registry { return NewRegistry(DefaultBufferSize) },
		NewEmitter,
	),
)
