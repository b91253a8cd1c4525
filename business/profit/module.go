// Package profit implements the profit evaluation context.
package profit

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/profit/app"
	profitDI "github.com/fd1az/arbitrage-pipeline/business/profit/di"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the profit bounded context.
type Module struct{}

// RegisterServices registers the evaluator, tracker and strategy weights.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, profitDI.Evaluator, func(sr di.ServiceRegistry) *app.Evaluator {
		cfg := sr.Get("config").(*config.Config)

		evaluator, err := app.NewEvaluator(app.PolicyFromConfig(cfg.Profit))
		if err != nil {
			panic("failed to create profit evaluator: " + err.Error())
		}
		return evaluator
	})

	di.RegisterToken(c, profitDI.Tracker, func(sr di.ServiceRegistry) *app.Tracker {
		cfg := sr.Get("config").(*config.Config)
		return app.NewTracker(cfg.Profit.VolatilityWindow)
	})

	di.RegisterToken(c, profitDI.Weights, func(sr di.ServiceRegistry) app.StrategyWeightProvider {
		cfg := sr.Get("config").(*config.Config)
		return app.WeightsFromConfig(cfg.Strategy.Weights)
	})

	return nil
}

// Startup resolves the evaluator so policy errors surface at boot.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	evaluator := profitDI.GetEvaluator(mono.Services())
	p := evaluator.Policy()
	mono.Logger().Info(ctx, "profit module started",
		"min_profit", p.MinProfit.String(),
		"min_roi_percent", p.MinROIPercent.String(),
		"max_gas_fraction", p.MaxGasFraction.String(),
	)
	return nil
}
