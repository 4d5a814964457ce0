package deadline

import "go.uber.org/fx"

// Module wires the deadline scheduler into the fx graph.
var Module = fx.Module("deadline",
	fx.Provide(NewScheduler),
)
