// Package app builds, signs and simulates execution bundles.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/bundle"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/bundle"
)

var one = decimal.NewFromInt(1)

// Config holds builder settings.
type Config struct {
	ChainID             *big.Int
	Executor            common.Address
	ValidityWindow      time.Duration
	SimulationTimeout   time.Duration
	DivergenceTolerance decimal.Decimal // fraction, 0.05 = 5%
	MinTipCap           *big.Int        // wei
	FlashLoanGas        uint64
	FlashLoanPremium    decimal.Decimal

	// Now defaults to time.Now.
	Now func() time.Time
}

type builderMetrics struct {
	built       metric.Int64Counter
	simulations metric.Int64Counter
	simLatency  metric.Float64Histogram
}

// Builder turns evaluated opportunities into signed, simulated bundles.
type Builder struct {
	cfg    Config
	exec   *executor
	signer Signer
	chain  ChainState
	tokens TokenResolver
	sim    Simulator
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *builderMetrics
}

// NewBuilder creates a bundle builder.
func NewBuilder(cfg Config, signer Signer, chain ChainState, tokens TokenResolver, sim Simulator, log logger.LoggerInterface) (*Builder, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("bundle builder needs a chain id"))
	}
	if cfg.ValidityWindow <= 0 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("bundle validity window must be positive"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = new(big.Int)
	}

	exec, err := newExecutor(cfg.Executor)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		cfg:    cfg,
		exec:   exec,
		signer: signer,
		chain:  chain,
		tokens: tokens,
		sim:    sim,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := b.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return b, nil
}

func (b *Builder) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	b.metrics = &builderMetrics{}

	b.metrics.built, err = meter.Int64Counter(
		"bundles_built_total",
		metric.WithDescription("Total bundles built and signed"),
		metric.WithUnit("{bundle}"),
	)
	if err != nil {
		return err
	}

	b.metrics.simulations, err = meter.Int64Counter(
		"bundle_simulations_total",
		metric.WithDescription("Total bundle simulations by result"),
		metric.WithUnit("{simulation}"),
	)
	if err != nil {
		return err
	}

	b.metrics.simLatency, err = meter.Float64Histogram(
		"bundle_simulation_latency_ms",
		metric.WithDescription("Bundle simulation latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 25, 50, 100, 250, 500, 1000, 2000),
	)
	return err
}

// BuildAndSimulate builds a bundle for o and validates it by simulation.
// On divergence or revert both the result and the bundle are returned with the error.
func (b *Builder) BuildAndSimulate(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) (*domain.SimulationResult, *domain.Bundle, error) {
	bundle, err := b.Build(ctx, o, a)
	if err != nil {
		return nil, nil, err
	}
	res, err := b.Simulate(ctx, bundle, o)
	return res, bundle, err
}

// Build encodes, signs and orders the transactions of o.
func (b *Builder) Build(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) (*domain.Bundle, error) {
	ctx, span := b.tracer.Start(ctx, "bundle.build",
		trace.WithAttributes(
			attribute.String("opportunity.id", o.ID.String()),
			attribute.String("opportunity.kind", string(o.Kind)),
			attribute.Int("hops", len(o.Hops)),
			attribute.Bool("flash_loan", a.FlashLoan),
		),
	)
	defer span.End()

	bundle, err := b.build(ctx, o, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, err
	}

	b.metrics.built.Add(ctx, 1)
	span.SetAttributes(attribute.Int("txs", len(bundle.Txs)))
	span.SetStatus(codes.Ok, "built")
	return bundle, nil
}

func (b *Builder) build(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) (*domain.Bundle, error) {
	if len(o.Hops) == 0 {
		return nil, apperror.New(apperror.CodeBundleInvalid,
			apperror.WithContext("opportunity has no hops"))
	}

	nonce, err := b.chain.PendingNonce(ctx, b.signer.Address())
	if err != nil {
		return nil, err
	}
	quote, err := b.chain.FeeQuote(ctx)
	if err != nil {
		return nil, err
	}
	feeCap, tip := b.fees(a.RecommendedGasPrice, quote.BaseFee, quote.TipCap)

	start := o.StartToken()
	amountIn, err := b.raw(start, o.AmountIn)
	if err != nil {
		return nil, err
	}

	type call struct {
		role domain.TxRole
		data []byte
		gas  uint64
	}
	calls := make([]call, 0, len(o.Hops)+2)

	if a.FlashLoan {
		data, err := b.exec.flashBorrow(start, amountIn)
		if err != nil {
			return nil, b.encodeErr(err)
		}
		calls = append(calls, call{domain.RoleFlashBorrow, data, market.BaseTxGas + b.cfg.FlashLoanGas/2})
	}

	keep := one.Sub(b.cfg.DivergenceTolerance)
	for i, h := range o.Hops {
		in, err := b.raw(h.TokenIn, h.AmountIn)
		if err != nil {
			return nil, err
		}
		minOut, err := b.raw(h.TokenOut, h.AmountOut.Mul(keep))
		if err != nil {
			return nil, err
		}
		if i == 0 {
			in = amountIn
		}
		data, err := b.exec.swap(h.Pool, h.TokenIn, h.TokenOut, in, minOut)
		if err != nil {
			return nil, b.encodeErr(err)
		}
		calls = append(calls, call{domain.RoleSwap, data, market.BaseTxGas + h.GasUnits})
	}

	if a.FlashLoan {
		premium, err := b.raw(start, o.AmountIn.Mul(b.cfg.FlashLoanPremium))
		if err != nil {
			return nil, err
		}
		data, err := b.exec.flashRepay(start, new(big.Int).Add(amountIn, premium))
		if err != nil {
			return nil, b.encodeErr(err)
		}
		calls = append(calls, call{domain.RoleFlashRepay, data, market.BaseTxGas + b.cfg.FlashLoanGas/2})
	}

	txs := make([]domain.BundleTx, len(calls))
	for i, c := range calls {
		signed, err := b.sign(&types.DynamicFeeTx{
			ChainID:   b.cfg.ChainID,
			Nonce:     nonce + uint64(i),
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       c.gas,
			To:        &b.exec.address,
			Data:      c.data,
		})
		if err != nil {
			return nil, err
		}
		txs[i] = domain.BundleTx{Role: c.role, Tx: signed}
	}

	now := b.cfg.Now()
	bundle := &domain.Bundle{
		ID:             uuid.New(),
		OpportunityID:  o.ID,
		Kind:           o.Kind,
		Route:          o.Route(),
		Txs:            txs,
		TargetBlock:    o.Block + 1,
		MinTimestamp:   now,
		MaxTimestamp:   now.Add(b.cfg.ValidityWindow),
		GasFeeCap:      feeCap,
		GasTipCap:      tip,
		FlashLoan:      a.FlashLoan,
		ExpectedProfit: a.NetProfit,
	}
	if err := bundle.ValidateAtomicity(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// fees returns the fee cap and tip: the tip is floored at MinTipCap and the
// cap covers both the recommended price and base fee plus tip.
func (b *Builder) fees(recommended, baseFee, tip *big.Int) (*big.Int, *big.Int) {
	t := new(big.Int)
	if tip != nil {
		t.Set(tip)
	}
	if t.Cmp(b.cfg.MinTipCap) < 0 {
		t.Set(b.cfg.MinTipCap)
	}

	floor := new(big.Int).Set(t)
	if baseFee != nil {
		floor.Add(floor, baseFee)
	}
	feeCap := new(big.Int).Set(floor)
	if recommended != nil && recommended.Cmp(feeCap) > 0 {
		feeCap.Set(recommended)
	}
	return feeCap, t
}

func (b *Builder) sign(tx *types.DynamicFeeTx) (*types.Transaction, error) {
	signed, err := b.signer.SignTx(types.NewTx(tx))
	if err != nil {
		return nil, apperror.New(apperror.CodeSigningFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("sign tx nonce %d", tx.Nonce)))
	}
	return signed, nil
}

// raw converts a decimal token amount into integer base units, truncating.
func (b *Builder) raw(token common.Address, amount decimal.Decimal) (*big.Int, error) {
	a, err := b.token(token)
	if err != nil {
		return nil, err
	}
	return a.ToRaw(amount), nil
}

func (b *Builder) token(addr common.Address) (*asset.Asset, error) {
	a, ok := b.tokens.GetToken(b.cfg.ChainID.Uint64(), addr)
	if !ok {
		return nil, apperror.New(apperror.CodeBundleInvalid,
			apperror.WithContext("unknown token "+addr.Hex()))
	}
	return a, nil
}

func (b *Builder) encodeErr(err error) error {
	return apperror.New(apperror.CodeBundleInvalid,
		apperror.WithCause(err),
		apperror.WithContext("encode executor call"))
}

// Simulate runs the bundle through the simulator within the configured timeout
// and compares realized against expected net profit.
func (b *Builder) Simulate(ctx context.Context, bundle *domain.Bundle, o opportunity.Opportunity) (*domain.SimulationResult, error) {
	ctx, span := b.tracer.Start(ctx, "bundle.simulate",
		trace.WithAttributes(
			attribute.String("bundle.id", bundle.ID.String()),
			attribute.Int64("target_block", int64(bundle.TargetBlock)),
		),
	)
	defer span.End()

	if b.cfg.SimulationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.SimulationTimeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := b.sim.Simulate(ctx, bundle)
	b.metrics.simLatency.Record(ctx, float64(time.Since(started).Milliseconds()))

	res, err := b.interpret(ctx, bundle, o, raw, err)
	result := "ok"
	if err != nil {
		result = string(apperror.GetCode(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetStatus(codes.Ok, "simulated")
	}
	b.metrics.simulations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return res, err
}

func (b *Builder) interpret(ctx context.Context, bundle *domain.Bundle, o opportunity.Opportunity, raw domain.CallBundleResult, simErr error) (*domain.SimulationResult, error) {
	if simErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.New(apperror.CodeSimulationTimeout,
				apperror.WithCause(simErr),
				apperror.WithContext(fmt.Sprintf("simulation exceeded %s", b.cfg.SimulationTimeout)))
		}
		return nil, simErr
	}
	if len(raw.Results) != len(bundle.Txs) {
		return nil, apperror.New(apperror.CodeRelayMalformed,
			apperror.WithContext(fmt.Sprintf("simulation returned %d results for %d txs", len(raw.Results), len(bundle.Txs))))
	}

	res := &domain.SimulationResult{
		BundleHash:   raw.BundleHash,
		CoinbaseDiff: raw.CoinbaseDiff,
		GasUsed:      make([]uint64, len(raw.Results)),
		ExpectedNet:  bundle.ExpectedProfit,
	}
	for i, r := range raw.Results {
		res.GasUsed[i] = r.GasUsed
		if r.Failed() && res.RevertReason == "" {
			res.RevertReason = fmt.Sprintf("tx %d (%s): %s%s", i, bundle.Txs[i].Role, r.Revert, r.Error)
		}
	}
	if res.RevertReason != "" {
		return res, apperror.New(apperror.CodeSimulationReverted,
			apperror.WithContext(res.RevertReason))
	}

	realized, err := b.realizedProfit(bundle, o, raw.Results)
	if err != nil {
		return res, apperror.New(apperror.CodeRelayMalformed,
			apperror.WithCause(err),
			apperror.WithContext("decode executor result"))
	}
	gasCost := decimal.NewFromBigInt(bundle.GasFeeCap, -18).Mul(decimal.NewFromInt(int64(res.TotalGasUsed())))

	res.RealizedNet = realized.Sub(gasCost)
	res.Divergence = domain.Divergence(res.ExpectedNet, res.RealizedNet)
	res.Success = true

	if res.Divergence.GreaterThan(b.cfg.DivergenceTolerance) {
		b.logger.Info(ctx, "simulation diverged from expectation",
			"bundle_id", bundle.ID.String(),
			"expected", res.ExpectedNet.String(),
			"realized", res.RealizedNet.String(),
			"divergence", res.Divergence.StringFixed(4),
		)
		return res, apperror.New(apperror.CodeSimulationDivergence,
			apperror.WithContext(fmt.Sprintf("realized %s vs expected %s", res.RealizedNet, res.ExpectedNet)))
	}
	return res, nil
}

// realizedProfit decodes the executor's returned amounts into base-asset profit
// before gas. Flash-loan bundles report profit from the repay call; otherwise
// profit is the last swap's output minus the first swap's input.
func (b *Builder) realizedProfit(bundle *domain.Bundle, o opportunity.Opportunity, results []domain.CallResult) (decimal.Decimal, error) {
	start := o.StartToken()
	startAsset, err := b.token(start)
	if err != nil {
		return decimal.Zero, err
	}
	last := results[len(results)-1].Return

	var profitRaw *big.Int
	if bundle.FlashLoan {
		profitRaw, err = b.exec.unpackAmount(methodFlashRepay, last)
		if err != nil {
			return decimal.Zero, err
		}
	} else {
		out, err := b.exec.unpackAmount(methodSwap, last)
		if err != nil {
			return decimal.Zero, err
		}
		in, err := b.raw(start, o.AmountIn)
		if err != nil {
			return decimal.Zero, err
		}
		profitRaw = new(big.Int).Sub(out, in)
	}

	profitStart := startAsset.ToDecimal(profitRaw)
	if o.AmountIn.IsZero() || o.AmountInBase.Equal(o.AmountIn) {
		return profitStart, nil
	}
	return profitStart.Mul(o.AmountInBase).Div(o.AmountIn), nil
}

// Reprice re-signs bundle with fee cap and tip multiplied by factor and a
// fresh validity window. Nonces and calldata are unchanged.
func (b *Builder) Reprice(ctx context.Context, bundle *domain.Bundle, factor decimal.Decimal) (*domain.Bundle, error) {
	_, span := b.tracer.Start(ctx, "bundle.reprice",
		trace.WithAttributes(
			attribute.String("bundle.id", bundle.ID.String()),
			attribute.String("factor", factor.String()),
		),
	)
	defer span.End()

	feeCap := decimal.NewFromBigInt(bundle.GasFeeCap, 0).Mul(factor).BigInt()
	tip := decimal.NewFromBigInt(bundle.GasTipCap, 0).Mul(factor).BigInt()

	txs := make([]domain.BundleTx, len(bundle.Txs))
	for i, btx := range bundle.Txs {
		signed, err := b.sign(&types.DynamicFeeTx{
			ChainID:   b.cfg.ChainID,
			Nonce:     btx.Tx.Nonce(),
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       btx.Tx.Gas(),
			To:        btx.Tx.To(),
			Data:      btx.Tx.Data(),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sign failed")
			return nil, err
		}
		txs[i] = domain.BundleTx{Role: btx.Role, Tx: signed}
	}

	now := b.cfg.Now()
	repriced := *bundle
	repriced.Txs = txs
	repriced.GasFeeCap = feeCap
	repriced.GasTipCap = tip
	repriced.MinTimestamp = now
	repriced.MaxTimestamp = now.Add(b.cfg.ValidityWindow)
	repriced.Repriced++

	span.SetStatus(codes.Ok, "repriced")
	return &repriced, nil
}

// ValidityWindow returns the configured bundle lifetime.
func (b *Builder) ValidityWindow() time.Duration { return b.cfg.ValidityWindow }
