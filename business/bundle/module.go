// Package bundle implements the bundle building and simulation context.
package bundle

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	"github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	bundleDI "github.com/fd1az/arbitrage-pipeline/business/bundle/di"
	"github.com/fd1az/arbitrage-pipeline/business/bundle/infra/signer"
	submissionDI "github.com/fd1az/arbitrage-pipeline/business/submission/di"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the bundle bounded context.
type Module struct{}

// RegisterServices registers the signer and the bundle builder.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, bundleDI.Signer, func(sr di.ServiceRegistry) *signer.LocalSigner {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		chainID := new(big.Int).SetUint64(cfg.Ethereum.ChainID)

		if cfg.Ethereum.SignerKey == "" {
			s, err := signer.NewEphemeralSigner(chainID)
			if err != nil {
				panic("failed to create signer: " + err.Error())
			}
			log.Warn(context.Background(), "no signer key configured, using an ephemeral key",
				"address", s.Address().Hex())
			return s
		}

		s, err := signer.NewLocalSigner(cfg.Ethereum.SignerKey, chainID)
		if err != nil {
			panic("failed to load signer: " + err.Error())
		}
		return s
	})

	di.RegisterToken(c, bundleDI.Builder, func(sr di.ServiceRegistry) *app.Builder {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		builder, err := app.NewBuilder(app.Config{
			ChainID:             new(big.Int).SetUint64(cfg.Ethereum.ChainID),
			Executor:            cfg.Bundle.ExecutorAddressHex(),
			ValidityWindow:      cfg.Bundle.ValidityWindow,
			SimulationTimeout:   cfg.Bundle.SimulationTimeout,
			DivergenceTolerance: decimal.NewFromFloat(cfg.Bundle.DivergenceTolerance),
			MinTipCap:           decimal.NewFromFloat(cfg.Bundle.GasTipGwei).Shift(9).BigInt(),
			FlashLoanGas:        cfg.Profit.FlashLoanGas,
			FlashLoanPremium:    decimal.NewFromFloat(cfg.Profit.FlashLoanPremium),
		},
			bundleDI.GetSigner(sr),
			blockchainDI.GetBlockchainService(sr),
			registry,
			submissionDI.GetSimulator(sr),
			log,
		)
		if err != nil {
			panic("failed to create bundle builder: " + err.Error())
		}
		return builder
	})

	return nil
}

// Startup logs the executor and signing account.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	s := bundleDI.GetSigner(mono.Services())
	mono.Logger().Info(ctx, "bundle module started",
		"executor", cfg.Bundle.ExecutorAddress,
		"signer", s.Address().Hex(),
		"validity_window", cfg.Bundle.ValidityWindow.String(),
	)
	return nil
}
