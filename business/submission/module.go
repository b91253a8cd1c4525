// Package submission implements the relay submission context.
package submission

import (
	"context"
	"math/big"

	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	bundleApp "github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	bundleDI "github.com/fd1az/arbitrage-pipeline/business/bundle/di"
	"github.com/fd1az/arbitrage-pipeline/business/bundle/infra/signer"
	profitDI "github.com/fd1az/arbitrage-pipeline/business/profit/di"
	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	submissionDI "github.com/fd1az/arbitrage-pipeline/business/submission/di"
	"github.com/fd1az/arbitrage-pipeline/business/submission/infra/archive"
	"github.com/fd1az/arbitrage-pipeline/business/submission/infra/flashbots"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the submission bounded context.
type Module struct{}

// RegisterServices registers relay clients, the record archive and the coordinator.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, submissionDI.Relays, func(sr di.ServiceRegistry) []*flashbots.Client {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		var auth flashbots.AuthSigner = bundleDI.GetSigner(sr)
		if cfg.Relay.AuthKey != "" {
			s, err := signer.NewLocalSigner(cfg.Relay.AuthKey, new(big.Int).SetUint64(cfg.Ethereum.ChainID))
			if err != nil {
				panic("failed to load relay auth key: " + err.Error())
			}
			auth = s
		}

		clients := make([]*flashbots.Client, 0, len(cfg.Relay.Endpoints))
		for _, ep := range cfg.Relay.Endpoints {
			client, err := flashbots.NewClient(flashbots.Config{
				Name:              ep.Name,
				URL:               ep.URL,
				Timeout:           cfg.Relay.Timeout,
				RequestsPerMinute: cfg.Relay.RequestsPerMinute,
			}, auth, log)
			if err != nil {
				panic("failed to create relay client " + ep.Name + ": " + err.Error())
			}
			clients = append(clients, client)
		}
		return clients
	})

	// The first configured relay also serves simulations.
	di.RegisterToken(c, submissionDI.Simulator, func(sr di.ServiceRegistry) bundleApp.Simulator {
		relays := submissionDI.GetRelays(sr)
		if len(relays) == 0 {
			panic("no relay configured for simulation")
		}
		return relays[0]
	})

	di.RegisterToken(c, submissionDI.Archive, func(sr di.ServiceRegistry) app.Archive {
		cfg := sr.Get("config").(*config.Config)

		a, err := archive.Open(context.Background(), cfg.Archive)
		if err != nil {
			panic("failed to open submission archive: " + err.Error())
		}
		return a
	})

	di.RegisterToken(c, submissionDI.Coordinator, func(sr di.ServiceRegistry) *app.Coordinator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		clients := submissionDI.GetRelays(sr)
		relays := make([]app.Relay, len(clients))
		for i, r := range clients {
			relays[i] = r
		}

		coord, err := app.NewCoordinator(
			app.ConfigFromSettings(cfg.Submission),
			relays,
			blockchainDI.GetBlockchainService(sr),
			bundleDI.GetBuilder(sr),
			profitDI.GetEvaluator(sr),
			submissionDI.GetArchive(sr),
			log,
		)
		if err != nil {
			panic("failed to create submission coordinator: " + err.Error())
		}
		return coord
	})

	return nil
}

// Startup resolves the coordinator so relay and archive errors surface at boot.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	submissionDI.GetCoordinator(mono.Services())

	names := make([]string, len(cfg.Relay.Endpoints))
	for i, ep := range cfg.Relay.Endpoints {
		names[i] = ep.Name
	}
	mono.Logger().Info(ctx, "submission module started",
		"relays", names,
		"archive", cfg.Archive.Backend,
		"max_attempts", cfg.Submission.MaxAttempts,
	)
	return nil
}
