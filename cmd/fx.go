package cmd

import (
	"go.uber.org/fx"

	"github.com/anders-malmros-inera/aggregator/config"
	"github.com/anders-malmros-inera/aggregator/internal/adapter/metrics"
	"github.com/anders-malmros-inera/aggregator/internal/adapter/pubsub"
	"github.com/anders-malmros-inera/aggregator/internal/deadline"
	"github.com/anders-malmros-inera/aggregator/internal/dispatch"
	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
	"github.com/anders-malmros-inera/aggregator/internal/domain/signaling"
	httptransport "github.com/anders-malmros-inera/aggregator/internal/handler/http"
	"github.com/anders-malmros-inera/aggregator/internal/service"
)

// NewApp assembles the fx application graph: config and logging are
// supplied as values, and the domain and ambient modules each contribute
// their own fx.Module, listed side by side.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),

		aggregation.Module,
		deadline.Module,
		dispatch.Module,
		signaling.Module,
		service.Module,
		pubsub.Module,
		metrics.Module,
		httptransport.Module,
	)
}
