// Package opportunity implements the opportunity search context.
package opportunity

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/opportunity/app"
	opportunityDI "github.com/fd1az/arbitrage-pipeline/business/opportunity/di"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the opportunity bounded context.
type Module struct{}

// RegisterServices registers the search engine.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, opportunityDI.Engine, func(sr di.ServiceRegistry) *app.Engine {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		engine, err := app.NewEngine(app.Config{
			MaxHops:          cfg.Search.MaxHops,
			TradeSizes:       cfg.Search.TradeSizesDecimal(),
			MaxTickCrossings: cfg.Search.MaxTickCrossings,
			ExpansionBudget:  cfg.Search.ExpansionBudget,
			MaxPoolAge:       cfg.Search.MaxPoolAge,
			MinProfit:        cfg.Profit.MinProfitDecimal(),
		}, log)
		if err != nil {
			panic("failed to create search engine: " + err.Error())
		}
		return engine
	})
	return nil
}

// Startup resolves the engine so configuration errors surface at boot.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	opportunityDI.GetEngine(mono.Services())
	mono.Logger().Info(ctx, "opportunity module started",
		"max_hops", mono.Config().Search.MaxHops,
		"trade_sizes", mono.Config().Search.TradeSizes,
	)
	return nil
}
