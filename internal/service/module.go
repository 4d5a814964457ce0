package service

import "go.uber.org/fx"

// Module wires the aggregator facade into the fx graph.
var Module = fx.Module("service",
	fx.Provide(NewAggregator),
)
