// Package memorylistpressfx provides an fx module for an in-memory pipeline.
// Useful for testing.
package memorylistpressfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/listpress"
	"github.com/discochess/listpress/internal/stats"
	"github.com/discochess/listpress/internal/stats/logger"
	"github.com/discochess/listpress/internal/store/memstore"
)

// Module provides a pipeline over an in-memory store. The *memstore.Store is
// provided as well, for seeding objects in tests.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memorylistpress",
	fx.Provide(
		newStatsCollector,
		memstore.New,
		newPipeline,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("listpress"))
}

// Params holds dependencies for creating the pipeline.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Store     *memstore.Store
	Lifecycle fx.Lifecycle
}

func newPipeline(p Params) (*listpress.Pipeline, error) {
	pipeline, err := listpress.New(
		listpress.WithStore(p.Store),
		listpress.WithStats(p.Collector),
		listpress.WithLogger(p.Logger.Named("listpress")),
	)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pipeline.Close()
		},
	})

	return pipeline, nil
}
