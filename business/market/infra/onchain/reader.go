// Package onchain reads pool state from Ethereum contracts.
package onchain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/arbitrage-pipeline/business/market/app"
	"github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/circuitbreaker"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/market/infra/onchain"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/market/infra/onchain"

	defaultConcurrency = 8
)

// Ensure Reader implements PoolReader.
var _ app.PoolReader = (*Reader)(nil)

// PoolSpec describes a watched pool.
type PoolSpec struct {
	Key    domain.PoolKey
	Token0 *asset.Asset
	Token1 *asset.Asset
	Fee    decimal.Decimal
	Kind   domain.PoolKind
}

type readerMetrics struct {
	reads       metric.Int64Counter
	readErrors  metric.Int64Counter
	readLatency metric.Float64Histogram
}

// Reader implements PoolReader with eth_call against pair and pool contracts.
type Reader struct {
	caller ethereum.ContractCaller
	specs  []PoolSpec

	pairABI abi.ABI
	v3ABI   abi.ABI

	cb     *circuitbreaker.CircuitBreaker[[]byte]
	logger logger.LoggerInterface
	now    func() time.Time

	tracer  trace.Tracer
	metrics *readerMetrics
}

// NewReader creates a pool reader. caller is usually an *ethclient.Client.
func NewReader(caller ethereum.ContractCaller, specs []PoolSpec, log logger.LoggerInterface) (*Reader, error) {
	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	v3ABI, err := abi.JSON(strings.NewReader(PoolV3ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v3 pool ABI: %w", err)
	}

	r := &Reader{
		caller:  caller,
		specs:   specs,
		pairABI: pairABI,
		v3ABI:   v3ABI,
		cb:      circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("pool-reader")),
		logger:  log,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
	}

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return r, nil
}

func (r *Reader) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &readerMetrics{}

	r.metrics.reads, err = meter.Int64Counter(
		"pool_reads_total",
		metric.WithDescription("Total pool state reads"),
	)
	if err != nil {
		return err
	}

	r.metrics.readErrors, err = meter.Int64Counter(
		"pool_read_errors_total",
		metric.WithDescription("Pool reads that failed and were skipped"),
	)
	if err != nil {
		return err
	}

	r.metrics.readLatency, err = meter.Float64Histogram(
		"pool_read_latency_ms",
		metric.WithDescription("Latency of a full pool sweep"),
		metric.WithUnit("ms"),
	)
	return err
}

// ReadPools reads every watched pool at block (0 = latest). A pool that fails
// to read is skipped and its error returned as a diagnostic.
func (r *Reader) ReadPools(ctx context.Context, block uint64) ([]domain.Pool, []error) {
	ctx, span := r.tracer.Start(ctx, "market.read_pools",
		trace.WithAttributes(
			attribute.Int64("block", int64(block)),
			attribute.Int("pools", len(r.specs)),
		),
	)
	defer span.End()

	start := time.Now()
	var blockNum *big.Int
	if block > 0 {
		blockNum = new(big.Int).SetUint64(block)
	}

	results := make([]*domain.Pool, len(r.specs))
	errs := make([]error, len(r.specs))

	var g errgroup.Group
	g.SetLimit(defaultConcurrency)
	for i, spec := range r.specs {
		g.Go(func() error {
			var (
				p   domain.Pool
				err error
			)
			switch spec.Kind {
			case domain.KindConcentrated:
				p, err = r.readConcentrated(ctx, spec, blockNum)
			default:
				p, err = r.readConstantProduct(ctx, spec, blockNum)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	pools := make([]domain.Pool, 0, len(r.specs))
	var diags []error
	for i := range r.specs {
		if errs[i] != nil {
			diags = append(diags, errs[i])
			continue
		}
		pools = append(pools, *results[i])
	}

	r.metrics.reads.Add(ctx, int64(len(pools)))
	r.metrics.readErrors.Add(ctx, int64(len(diags)))
	r.metrics.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	span.SetAttributes(attribute.Int("skipped", len(diags)))
	if len(pools) == 0 && len(diags) > 0 {
		span.SetStatus(codes.Error, "no pools read")
	} else {
		span.SetStatus(codes.Ok, "pools read")
	}
	return pools, diags
}

func (r *Reader) readConstantProduct(ctx context.Context, spec PoolSpec, block *big.Int) (domain.Pool, error) {
	out, err := r.call(ctx, r.pairABI, spec.Key, block, "getReserves")
	if err != nil {
		return domain.Pool{}, err
	}
	if len(out) < 2 {
		return domain.Pool{}, malformed(spec.Key, "getReserves output")
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.Pool{}, malformed(spec.Key, "getReserves types")
	}

	return domain.Pool{
		Key:       spec.Key,
		Token0:    spec.Token0.Address(),
		Token1:    spec.Token1.Address(),
		Fee:       spec.Fee,
		Kind:      domain.KindConstantProduct,
		Reserve0:  spec.Token0.ToDecimal(r0),
		Reserve1:  spec.Token1.ToDecimal(r1),
		UpdatedAt: r.now(),
	}, nil
}

// readConcentrated reads the active tick range and its two neighbours at
// tick-spacing granularity.
func (r *Reader) readConcentrated(ctx context.Context, spec PoolSpec, block *big.Int) (domain.Pool, error) {
	slot0, err := r.call(ctx, r.v3ABI, spec.Key, block, "slot0")
	if err != nil {
		return domain.Pool{}, err
	}
	liq, err := r.call(ctx, r.v3ABI, spec.Key, block, "liquidity")
	if err != nil {
		return domain.Pool{}, err
	}
	spacingOut, err := r.call(ctx, r.v3ABI, spec.Key, block, "tickSpacing")
	if err != nil {
		return domain.Pool{}, err
	}

	tickBig, ok1 := first[*big.Int](slot0, 1)
	active, ok2 := first[*big.Int](liq, 0)
	spacingBig, ok3 := first[*big.Int](spacingOut, 0)
	if !ok1 || !ok2 || !ok3 || spacingBig.Sign() <= 0 {
		return domain.Pool{}, malformed(spec.Key, "v3 state types")
	}

	tick := int(tickBig.Int64())
	spacing := int(spacingBig.Int64())
	lower := floorDiv(tick, spacing) * spacing
	upper := lower + spacing

	netLower, err := r.liquidityNet(ctx, spec.Key, block, lower)
	if err != nil {
		return domain.Pool{}, err
	}
	netUpper, err := r.liquidityNet(ctx, spec.Key, block, upper)
	if err != nil {
		return domain.Pool{}, err
	}

	d0, d1 := int(spec.Token0.Decimals()), int(spec.Token1.Decimals())
	liqScale := math.Pow(10, float64(d0+d1)/2)
	toUnits := func(raw *big.Int) float64 {
		if raw.Sign() <= 0 {
			return 0
		}
		f, _ := new(big.Float).SetInt(raw).Float64()
		return f / liqScale
	}

	below := new(big.Int).Sub(active, netLower)
	above := new(big.Int).Add(active, netUpper)

	return domain.Pool{
		Key:    spec.Key,
		Token0: spec.Token0.Address(),
		Token1: spec.Token1.Address(),
		Fee:    spec.Fee,
		Kind:   domain.KindConcentrated,
		Concentrated: &domain.ConcentratedState{
			Tick:        tick,
			TickSpacing: spacing,
			Scale:       math.Pow10(d0 - d1),
			Ranges: []domain.TickRange{
				{Lower: lower - spacing, Upper: lower, Liquidity: toUnits(below)},
				{Lower: lower, Upper: upper, Liquidity: toUnits(active)},
				{Lower: upper, Upper: upper + spacing, Liquidity: toUnits(above)},
			},
		},
		UpdatedAt: r.now(),
	}, nil
}

func (r *Reader) liquidityNet(ctx context.Context, key domain.PoolKey, block *big.Int, tick int) (*big.Int, error) {
	out, err := r.call(ctx, r.v3ABI, key, block, "ticks", big.NewInt(int64(tick)))
	if err != nil {
		return nil, err
	}
	net, ok := first[*big.Int](out, 1)
	if !ok {
		return nil, malformed(key, "ticks output")
	}
	return net, nil
}

func (r *Reader) call(ctx context.Context, contract abi.ABI, key domain.PoolKey, block *big.Int, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	to := key.Address
	raw, err := r.cb.Execute(func() ([]byte, error) {
		return r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s.%s", key, method)))
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, apperror.New(apperror.CodeMalformedPool,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s.%s decode", key, method)))
	}
	return out, nil
}

func first[T any](vals []any, i int) (T, bool) {
	var zero T
	if i >= len(vals) {
		return zero, false
	}
	v, ok := vals[i].(T)
	return v, ok
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func malformed(key domain.PoolKey, what string) error {
	return apperror.New(apperror.CodeMalformedPool,
		apperror.WithContext(fmt.Sprintf("%s: unexpected %s", key, what)))
}
