// Package market implements the market snapshot context: pool state and mempool visibility.
package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	"github.com/fd1az/arbitrage-pipeline/business/market/app"
	marketDI "github.com/fd1az/arbitrage-pipeline/business/market/di"
	"github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/business/market/infra/mempool"
	"github.com/fd1az/arbitrage-pipeline/business/market/infra/onchain"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
)

// Module implements the market bounded context.
type Module struct{}

// RegisterServices registers all market services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, marketDI.PoolReader, func(sr di.ServiceRegistry) app.PoolReader {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		client := sr.Get("ethClient").(*ethclient.Client)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		specs, err := PoolSpecs(cfg.Market.Pools, registry, cfg.Ethereum.ChainID)
		if err != nil {
			panic("failed to resolve pools: " + err.Error())
		}
		reader, err := onchain.NewReader(client, specs, log)
		if err != nil {
			panic("failed to create pool reader: " + err.Error())
		}
		return reader
	})

	di.RegisterToken(c, marketDI.PendingSource, func(sr di.ServiceRegistry) app.PendingSource {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		w, err := mempool.NewWatcher(mempool.Config{
			WSURL:      cfg.Ethereum.WebSocketURL,
			Window:     cfg.Market.MempoolWindow,
			MaxPending: cfg.Market.MaxPending,
		}, log)
		if err != nil {
			panic("failed to create mempool watcher: " + err.Error())
		}
		return w
	})

	di.RegisterToken(c, marketDI.MarketService, func(sr di.ServiceRegistry) *app.Service {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		base, ok := registry.Lookup(cfg.Market.BaseToken, cfg.Ethereum.ChainID)
		if !ok {
			panic("unknown base token: " + cfg.Market.BaseToken)
		}

		var pending app.PendingSource
		if cfg.Market.MempoolStream {
			pending = marketDI.GetPendingSource(sr)
		}

		return app.NewService(
			blockchainDI.GetBlockSubscriber(sr),
			marketDI.GetPoolReader(sr),
			pending,
			app.ServiceConfig{
				BaseToken: base.Address(),
				Tokens:    registry.Tokens(cfg.Ethereum.ChainID),
			},
			log,
		)
	})

	return nil
}

// Startup connects the mempool stream when enabled.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	if mono.Config().Market.MempoolStream {
		src := marketDI.GetPendingSource(mono.Services())
		if starter, ok := src.(interface{ Start(context.Context) error }); ok {
			if err := starter.Start(ctx); err != nil {
				// Snapshots still work without pending-tx visibility.
				log.Warn(ctx, "mempool stream unavailable", "error", err)
			}
		}
	}

	log.Info(ctx, "market module started", "pools", len(mono.Config().Market.Pools))
	return nil
}

// PoolSpecs resolves configured pools against the asset registry.
func PoolSpecs(pools []config.PoolConfig, registry *asset.Registry, chainID uint64) ([]onchain.PoolSpec, error) {
	specs := make([]onchain.PoolSpec, 0, len(pools))
	for i, p := range pools {
		t0, ok := registry.Lookup(p.Token0, chainID)
		if !ok {
			return nil, fmt.Errorf("pool %d: unknown token %q", i, p.Token0)
		}
		t1, ok := registry.Lookup(p.Token1, chainID)
		if !ok {
			return nil, fmt.Errorf("pool %d: unknown token %q", i, p.Token1)
		}
		specs = append(specs, onchain.PoolSpec{
			Key:    domain.PoolKey{Venue: domain.Venue(p.Venue), Address: common.HexToAddress(p.Address)},
			Token0: t0,
			Token1: t1,
			Fee:    decimal.NewFromFloat(p.Fee),
			Kind:   domain.PoolKind(p.Kind),
		})
	}
	return specs, nil
}
