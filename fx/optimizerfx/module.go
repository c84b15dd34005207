// Package optimizerfx provides an fx module wiring the optimization layer
// into an application container.
package optimizerfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/pkg/optimizer"
)

// Module provides a started *optimizer.Optimizer.
// Requires a *config.Configuration and a *zap.Logger to be provided.
var Module = fx.Module("optimizer",
	fx.Provide(newOptimizer),
)

// Params holds dependencies for creating the optimizer.
type Params struct {
	fx.In

	Config    *config.Configuration
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func newOptimizer(p Params) (*optimizer.Optimizer, error) {
	opt, err := optimizer.New(p.Config, optimizer.WithLogger(p.Logger.Named("optimizer")))
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return opt.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return opt.Stop(ctx)
		},
	})

	return opt, nil
}
