// Package arbitrage wires the per-block pipeline from the other contexts.
package arbitrage

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/app"
	arbitrageDI "github.com/fd1az/arbitrage-pipeline/business/arbitrage/di"
	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/infra"
	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	bundleDI "github.com/fd1az/arbitrage-pipeline/business/bundle/di"
	marketDI "github.com/fd1az/arbitrage-pipeline/business/market/di"
	opportunityDI "github.com/fd1az/arbitrage-pipeline/business/opportunity/di"
	profitDI "github.com/fd1az/arbitrage-pipeline/business/profit/di"
	riskDI "github.com/fd1az/arbitrage-pipeline/business/risk/di"
	submissionDI "github.com/fd1az/arbitrage-pipeline/business/submission/di"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the arbitrage bounded context.
type Module struct{}

// RegisterServices registers the reporter and the pipeline.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, arbitrageDI.Reporter, func(sr di.ServiceRegistry) app.Reporter {
		cfg := sr.Get("config").(*config.Config)
		if cfg.App.TUIMode {
			return infra.NewTUIReporter()
		}
		return infra.NewConsoleReporter(cfg.App.LogLevel == "debug")
	})

	di.RegisterToken(c, arbitrageDI.Pipeline, func(sr di.ServiceRegistry) *app.Pipeline {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		p, err := app.NewPipeline(app.ConfigFromSettings(cfg.Strategy), app.Deps{
			Snapshots: marketDI.GetMarketService(sr),
			Fees:      blockchainDI.GetBlockchainService(sr),
			Searcher:  opportunityDI.GetEngine(sr),
			Evaluator: profitDI.GetEvaluator(sr),
			Gas:       profitDI.GetTracker(sr),
			Risk:      riskDI.GetGovernor(sr),
			Builder:   bundleDI.GetBuilder(sr),
			Submitter: submissionDI.GetCoordinator(sr),
			Reporter:  arbitrageDI.GetReporter(sr),
		}, log)
		if err != nil {
			panic("failed to create pipeline: " + err.Error())
		}
		return p
	})
	return nil
}

// Startup starts the reporter. The pipeline itself is run by main.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	if err := arbitrageDI.GetReporter(mono.Services()).Start(ctx); err != nil {
		return err
	}
	p := arbitrageDI.GetPipeline(mono.Services())
	mono.Logger().Info(ctx, "arbitrage module started", "head", p.Head())
	return nil
}
