// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

// Monolith is the main application container providing access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	EthClient() *ethclient.Client
	AssetRegistry() *asset.Registry
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	ethClient     *ethclient.Client
	assetRegistry *asset.Registry
	container     di.Container
}

// New dials the execution node, checks it serves the configured chain and
// registers the shared services every module resolves by name.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (*app, error) {
	registry, err := NewAssetRegistry(cfg)
	if err != nil {
		return nil, err
	}

	ethClient, err := ethclient.DialContext(ctx, cfg.Ethereum.HTTPURL)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeEthereumConnectionFailed, "dial "+cfg.Ethereum.HTTPURL)
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		ethClient.Close()
		return nil, apperror.Wrap(err, apperror.CodeEthereumRPCError, "eth_chainId")
	}
	if want := new(big.Int).SetUint64(cfg.Ethereum.ChainID); chainID.Cmp(want) != 0 {
		ethClient.Close()
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext(fmt.Sprintf("node serves chain %s, configured for %s", chainID, want)))
	}

	container := di.NewContainer()
	container.Register("config", cfg)
	container.Register("logger", log)
	container.Register("ethClient", ethClient)
	container.Register("assetRegistry", registry)

	log.Info(ctx, "monolith ready",
		"chain_id", chainID.Uint64(),
		"tokens", len(registry.Tokens(cfg.Ethereum.ChainID)),
	)

	return &app{
		config:        cfg,
		logger:        log,
		ethClient:     ethClient,
		assetRegistry: registry,
		container:     container,
	}, nil
}

// NewAssetRegistry returns the built-in token set extended with market.tokens.
func NewAssetRegistry(cfg *config.Config) (*asset.Registry, error) {
	registry := asset.DefaultRegistry()
	for _, t := range cfg.Market.Tokens {
		token := asset.NewToken(cfg.Ethereum.ChainID, common.HexToAddress(t.Address), t.Symbol, t.Name, t.Decimals)
		if err := registry.Register(token); err != nil {
			return nil, fmt.Errorf("market.tokens: %w", err)
		}
	}
	return registry, nil
}

func (a *app) Config() *config.Config { return a.config }

func (a *app) Logger() logger.LoggerInterface { return a.logger }

func (a *app) EthClient() *ethclient.Client { return a.ethClient }

func (a *app) AssetRegistry() *asset.Registry { return a.assetRegistry }

func (a *app) Services() di.ServiceRegistry { return a.container }

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules in order.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close drops the node connection.
func (a *app) Close() error {
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	return nil
}
