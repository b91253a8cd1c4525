// Package blockchain is the bounded context for the execution node: head
// stream, fee state and executor account reads.
package blockchain

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/app"
	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	"github.com/fd1az/arbitrage-pipeline/business/blockchain/infra/ethereum"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

type Module struct{}

func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, blockchainDI.BlockSubscriber, func(sr di.ServiceRegistry) app.BlockSubscriber {
		cfg := sr.Get("config").(*config.Config)
		sub, err := ethereum.NewSubscriber(subscriberConfig(cfg.Ethereum), sr.Get("logger").(logger.LoggerInterface))
		if err != nil {
			panic("blockchain: subscriber: " + err.Error())
		}
		return sub
	})

	blockchainDI.RegisterGasOracle(c, func(sr di.ServiceRegistry) app.GasOracle {
		oracle, err := ethereum.NewGasOracle(ethereum.DefaultGasOracleConfig(),
			sr.Get("ethClient").(*ethclient.Client),
			sr.Get("logger").(logger.LoggerInterface))
		if err != nil {
			panic("blockchain: gas oracle: " + err.Error())
		}
		return oracle
	})

	blockchainDI.RegisterAccountReader(c, func(sr di.ServiceRegistry) app.AccountReader {
		return ethereum.NewAccountReader(sr.Get("ethClient").(*ethclient.Client))
	})

	blockchainDI.RegisterBlockchainService(c)
	return nil
}

func subscriberConfig(cfg config.EthereumConfig) ethereum.SubscriberConfig {
	sc := ethereum.DefaultSubscriberConfig(cfg.WebSocketURL, cfg.HTTPURL)
	sc.InitialBackoff = cfg.InitialBackoff
	sc.MaxBackoff = cfg.MaxBackoff
	sc.MaxReconnects = cfg.MaxReconnects
	sc.StallTimeout = cfg.StallTimeout
	if cfg.PollInterval > 0 {
		sc.PollInterval = cfg.PollInterval
	}
	return sc
}

// Startup probes the fee oracle. The head subscription starts with its first
// consumer.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	price, err := blockchainDI.GetBlockchainService(mono.Services()).GetGasPrice(ctx)
	if err != nil {
		// Every pass re-queries; passes are skipped until the oracle recovers.
		log.Warn(ctx, "gas oracle unavailable at startup", "error", err)
		return nil
	}
	log.Info(ctx, "blockchain module started", "gas_gwei", price.Gwei())
	return nil
}
