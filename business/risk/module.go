// Package risk implements the risk governor context.
package risk

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/risk/app"
	riskDI "github.com/fd1az/arbitrage-pipeline/business/risk/di"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the risk bounded context.
type Module struct{}

// RegisterServices registers the governor.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, riskDI.Governor, func(sr di.ServiceRegistry) *app.Governor {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		g, err := app.NewGovernor(app.ConfigFromSettings(cfg.Risk, cfg.Strategy), log)
		if err != nil {
			panic("failed to create risk governor: " + err.Error())
		}
		return g
	})
	return nil
}

// Startup logs the starting risk state.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	s := riskDI.GetGovernor(mono.Services()).State()
	mono.Logger().Info(ctx, "risk module started",
		"balance", s.Balance.String(),
		"day", s.Day,
		"strategies", len(s.Strategies),
	)
	return nil
}
