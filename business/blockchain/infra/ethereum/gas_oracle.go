package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/app"
	"github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/cache"
	"github.com/fd1az/arbitrage-pipeline/internal/circuitbreaker"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

// Ensure GasOracle implements app.GasOracle.
var _ app.GasOracle = (*GasOracle)(nil)

// FeeClient is the subset of *ethclient.Client the oracle reads fees from.
type FeeClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// GasOracleConfig holds configuration for the gas oracle.
type GasOracleConfig struct {
	CacheTTL    time.Duration // How long to cache fee data
	MaxGasPrice *big.Int      // Prices above this are clamped
	MinTipCap   *big.Int      // Floor for the priority tip
}

// DefaultGasOracleConfig returns sensible defaults.
func DefaultGasOracleConfig() GasOracleConfig {
	return GasOracleConfig{
		CacheTTL:    2 * time.Second,
		MaxGasPrice: big.NewInt(500_000_000_000), // 500 gwei
		MinTipCap:   big.NewInt(1_000_000_000),   // 1 gwei
	}
}

type gasOracleMetrics struct {
	fetches     metric.Int64Counter
	gasGwei     metric.Float64Gauge
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

type feeSnapshot struct {
	price *domain.GasPrice
	quote domain.FeeQuote
}

// GasOracle serves gas prices and EIP-1559 fee quotes with a short TTL cache.
type GasOracle struct {
	config GasOracleConfig
	client FeeClient
	logger logger.LoggerInterface

	fees *cache.Cache[string, feeSnapshot]
	cb   *circuitbreaker.CircuitBreaker[feeSnapshot]

	tracer  trace.Tracer
	metrics *gasOracleMetrics
}

// NewGasOracle creates a new gas oracle instance.
func NewGasOracle(cfg GasOracleConfig, client FeeClient, log logger.LoggerInterface) (*GasOracle, error) {
	g := &GasOracle{
		config: cfg,
		client: client,
		logger: log,
		fees:   cache.New[string, feeSnapshot](time.Minute),
		cb:     circuitbreaker.New[feeSnapshot](circuitbreaker.DefaultConfig("gas-oracle")),
		tracer: otel.Tracer(tracerName),
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return g, nil
}

func (g *GasOracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gasOracleMetrics{}

	g.metrics.fetches, err = meter.Int64Counter(
		"gas_price_fetches_total",
		metric.WithDescription("Total fee data fetches from the node"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	g.metrics.gasGwei, err = meter.Float64Gauge(
		"gas_price_gwei",
		metric.WithDescription("Current gas price in gwei"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheHits, err = meter.Int64Counter(
		"gas_cache_hits_total",
		metric.WithDescription("Fee data cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheMisses, err = meter.Int64Counter(
		"gas_cache_misses_total",
		metric.WithDescription("Fee data cache misses"),
		metric.WithUnit("{miss}"),
	)
	return err
}

// GetGasPrice retrieves the current gas price.
func (g *GasOracle) GetGasPrice(ctx context.Context) (*domain.GasPrice, error) {
	snap, err := g.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.price, nil
}

// FeeQuote retrieves base fee and priority tip.
func (g *GasOracle) FeeQuote(ctx context.Context) (domain.FeeQuote, error) {
	snap, err := g.current(ctx)
	if err != nil {
		return domain.FeeQuote{}, err
	}
	return snap.quote, nil
}

func (g *GasOracle) current(ctx context.Context) (feeSnapshot, error) {
	ctx, span := g.tracer.Start(ctx, "gas.fee_data")
	defer span.End()

	if snap, found := g.fees.Get(ctx, "current"); found {
		g.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return snap, nil
	}
	g.metrics.cacheMisses.Add(ctx, 1)
	g.metrics.fetches.Add(ctx, 1)

	snap, err := g.cb.Execute(func() (feeSnapshot, error) {
		return g.fetch(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return feeSnapshot{}, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to get fee data"))
	}

	g.fees.Set(ctx, "current", snap, g.config.CacheTTL)
	g.metrics.gasGwei.Record(ctx, snap.price.Gwei())

	span.SetAttributes(attribute.Float64("gwei", snap.price.Gwei()))
	span.SetStatus(codes.Ok, "fetched")
	return snap, nil
}

func (g *GasOracle) fetch(ctx context.Context) (feeSnapshot, error) {
	wei, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return feeSnapshot{}, err
	}
	tip, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		return feeSnapshot{}, err
	}
	head, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return feeSnapshot{}, err
	}

	if g.config.MaxGasPrice != nil && wei.Cmp(g.config.MaxGasPrice) > 0 {
		g.logger.Warn(ctx, "gas price exceeds max, clamping", "wei", wei.String())
		wei = new(big.Int).Set(g.config.MaxGasPrice)
	}
	if g.config.MinTipCap != nil && tip.Cmp(g.config.MinTipCap) < 0 {
		tip = new(big.Int).Set(g.config.MinTipCap)
	}

	baseFee := head.BaseFee
	if baseFee == nil {
		// Pre-London chains: treat the whole price as base fee.
		baseFee = new(big.Int).Set(wei)
	}

	price := domain.NewGasPrice(wei)
	return feeSnapshot{
		price: price,
		quote: domain.FeeQuote{BaseFee: baseFee, TipCap: tip, GasPrice: price},
	}, nil
}

// Close stops the fee cache.
func (g *GasOracle) Close() error {
	g.fees.Close()
	return nil
}
