package app

import (
	"context"
	"errors"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	profitApp "github.com/fd1az/arbitrage-pipeline/business/profit/app"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	risk "github.com/fd1az/arbitrage-pipeline/business/risk/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/arbitrage"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/arbitrage"
)

var hundred = decimal.NewFromInt(100)

// Config holds pipeline policy.
type Config struct {
	Thresholds domain.Thresholds
	Weights    profitApp.StrategyWeightProvider
	// MaxSubmissionsPerPass caps the bundles sent for one snapshot. Defaults to 1.
	MaxSubmissionsPerPass int

	// Now defaults to time.Now.
	Now func() time.Time
}

// ConfigFromSettings converts the loaded strategy settings.
func ConfigFromSettings(s config.StrategyConfig) Config {
	return Config{
		Thresholds: domain.Thresholds{
			HighGasGwei:            s.HighGasGwei,
			MediumGasGwei:          s.MediumGasGwei,
			SkipVolatilityPercent:  s.SkipVolatilityPercent,
			HighMempoolTxPerMinute: s.HighMempoolTxPerMinute,
		},
		Weights:               profitApp.WeightsFromConfig(s.Weights),
		MaxSubmissionsPerPass: 1,
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Snapshots SnapshotSource
	Fees      FeeSource
	Searcher  Searcher
	Evaluator Evaluator
	Gas       GasTracker
	Risk      RiskGate
	Builder   BundleBuilder
	Submitter Submitter
	Reporter  Reporter
}

// PassSummary describes what one pass did.
type PassSummary struct {
	Block         uint64
	Plan          domain.Plan
	SkipReason    string
	Opportunities int
	SkippedPools  int
	Profitable    int
	Simulated     int
	Submitted     []submission.Record
}

type pipelineMetrics struct {
	passes      metric.Int64Counter
	submissions metric.Int64Counter
	duration    metric.Float64Histogram
}

// Pipeline runs detection, evaluation, risk gating, bundling and submission
// once per market snapshot.
type Pipeline struct {
	cfg  Config
	deps Deps

	head     atomic.Uint64
	tracking sync.WaitGroup

	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *pipelineMetrics
}

// NewPipeline creates a pipeline and subscribes its reporter to breaker changes.
func NewPipeline(cfg Config, deps Deps, log logger.LoggerInterface) (*Pipeline, error) {
	if deps.Searcher == nil || deps.Evaluator == nil || deps.Gas == nil ||
		deps.Risk == nil || deps.Builder == nil || deps.Submitter == nil {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("pipeline is missing a stage"))
	}
	if cfg.MaxSubmissionsPerPass < 1 {
		cfg.MaxSubmissionsPerPass = 1
	}
	if cfg.Weights == nil {
		cfg.Weights = profitApp.StaticWeights{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	deps.Risk.OnBreaker(func(_ context.Context, ev risk.BreakerEvent) {
		kind := domain.EventBreakerReset
		if ev.Tripped {
			kind = domain.EventBreakerTripped
		}
		p.emit(domain.Event{
			Kind:   kind,
			At:     ev.At,
			Block:  p.head.Load(),
			Reason: string(ev.Reason),
			Detail: ev.Detail,
		})
	})
	return p, nil
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter(meterName)

	passes, err := meter.Int64Counter(
		"pipeline_passes_total",
		metric.WithDescription("Pipeline passes by chosen plan"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return err
	}

	submissions, err := meter.Int64Counter(
		"pipeline_submissions_total",
		metric.WithDescription("Bundles handed to the submitter"),
		metric.WithUnit("{bundle}"),
	)
	if err != nil {
		return err
	}

	duration, err := meter.Float64Histogram(
		"pipeline_pass_duration_ms",
		metric.WithDescription("Time from snapshot to end of pass"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	p.metrics = &pipelineMetrics{passes: passes, submissions: submissions, duration: duration}
	return nil
}

// Head returns the newest block the pipeline has seen.
func (p *Pipeline) Head() uint64 { return p.head.Load() }

// Run processes snapshots until ctx is done or the source closes. A new
// snapshot cancels the pass still working on the previous one. In-flight
// submissions are tracked to a terminal state before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.deps.Snapshots == nil {
		return apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("pipeline has no snapshot source"))
	}
	snaps, err := p.deps.Snapshots.Snapshots(ctx)
	if err != nil {
		return err
	}
	p.logger.Info(ctx, "pipeline started")

	var passes sync.WaitGroup
	cancel := context.CancelFunc(func() {})
	defer func() {
		cancel()
		passes.Wait()
		p.tracking.Wait()
		p.logger.Info(ctx, "pipeline stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			cancel()
			passCtx, c := context.WithCancel(ctx)
			cancel = c
			passes.Go(func() { p.Pass(passCtx, snap) })
		}
	}
}

// Wait blocks until every submission started by Pass is terminal.
func (p *Pipeline) Wait() { p.tracking.Wait() }

// Pass runs the pipeline once against snap.
func (p *Pipeline) Pass(ctx context.Context, snap *market.Snapshot) PassSummary {
	started := p.cfg.Now()
	sum := PassSummary{Block: snap.Block()}
	p.observeHead(snap.Block())

	ctx, span := p.tracer.Start(ctx, "pipeline.pass",
		trace.WithAttributes(attribute.Int64("block", int64(snap.Block()))),
	)
	defer func() {
		p.metrics.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("plan", string(sum.Plan))))
		p.metrics.duration.Record(ctx, float64(p.cfg.Now().Sub(started).Milliseconds()))
		span.SetAttributes(
			attribute.Int("opportunities", sum.Opportunities),
			attribute.Int("submitted", len(sum.Submitted)),
		)
		span.End()
	}()

	gasPrice := p.currentGas(ctx, snap)
	p.emit(domain.Event{
		Kind:         domain.EventSnapshot,
		At:           started,
		Block:        snap.Block(),
		GasPriceGwei: gweiOf(gasPrice),
	})

	kinds := p.plan(snap, gasPrice, &sum)
	if len(kinds) == 0 {
		p.skip(ctx, &sum, sum.SkipReason)
		span.SetStatus(codes.Ok, "skipped")
		return sum
	}

	results := p.deps.Searcher.Search(snap, kinds...)
	opps, err := results.Collect(ctx)
	diags := results.Diagnostics()
	for _, d := range diags {
		p.logger.Warn(ctx, "pool skipped by search", append([]any{"block", snap.Block()}, apperror.LogAttrs(d)...)...)
	}
	sum.SkippedPools = len(diags)
	if err != nil {
		if errors.Is(err, context.Canceled) || apperror.HasCode(err, apperror.CodeStaleSnapshot) {
			p.skip(ctx, &sum, "superseded")
			span.SetStatus(codes.Ok, "superseded")
			return sum
		}
		p.skip(ctx, &sum, string(apperror.GetCode(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return sum
	}
	sum.Opportunities = len(opps)
	for _, o := range opps {
		p.emit(domain.Event{
			Kind:          domain.EventOpportunityFound,
			At:            p.cfg.Now(),
			Block:         o.Block,
			OpportunityID: o.ID,
			Strategy:      o.Kind,
			Route:         o.Route(),
			GrossProfit:   o.GrossProfit,
		})
	}

	analyses := p.evaluate(ctx, opps, p.deps.Gas.Strategy(gasPrice))
	byID := make(map[uuid.UUID]opportunity.Opportunity, len(opps))
	var profitable []profit.ProfitAnalysis
	for i, a := range analyses {
		byID[a.OpportunityID] = opps[i]
		p.emit(analysisEvent(opps[i], a, p.cfg.Now()))
		if a.Profitable {
			profitable = append(profitable, a)
		}
	}
	sum.Profitable = len(profitable)

	for _, a := range profitApp.Rank(profitable, p.cfg.Weights) {
		if len(sum.Submitted) >= p.cfg.MaxSubmissionsPerPass || ctx.Err() != nil {
			break
		}
		o := byID[a.OpportunityID]

		if err := p.deps.Risk.Decide(ctx, o, a); err != nil {
			p.logStageError(ctx, "risk gate refused", err, "opportunity_id", o.ID.String())
			if apperror.HasCode(err, apperror.CodeBreakerTripped) {
				break
			}
			continue
		}

		sim, b, err := p.deps.Builder.BuildAndSimulate(ctx, o, a)
		p.emit(simulationEvent(o, sim, b, err, p.cfg.Now()))
		if sim != nil {
			sum.Simulated++
		}
		if err != nil {
			p.logStageError(ctx, "bundle discarded", err, "opportunity_id", o.ID.String(), "route", o.Route())
			continue
		}
		if sim == nil || !sim.Success {
			p.logger.Info(ctx, "bundle discarded", "opportunity_id", o.ID.String(), "route", o.Route())
			continue
		}

		// A newer snapshot arrived while simulating.
		if ctx.Err() != nil {
			break
		}

		rec, err := p.deps.Submitter.Submit(ctx, b)
		if err != nil {
			p.logStageError(ctx, "bundle submission failed", err, "bundle_id", b.ID.String())
			continue
		}
		p.metrics.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(rec.State))))
		sum.Submitted = append(sum.Submitted, rec)

		if rec.State.Terminal() {
			p.emit(settledEvent(rec, p.settle(ctx, rec, b, sim, a), p.cfg.Now()))
			continue
		}
		p.emit(transitionEvent(rec, p.cfg.Now()))
		p.track(ctx, rec, b, sim, a)
	}

	span.SetStatus(codes.Ok, "done")
	return sum
}

// currentGas is the quoted network price, falling back to the snapshot base fee.
func (p *Pipeline) currentGas(ctx context.Context, snap *market.Snapshot) *big.Int {
	price := snap.BaseFee()
	if p.deps.Fees != nil {
		q, err := p.deps.Fees.FeeQuote(ctx)
		switch {
		case err != nil:
			p.logger.Debug(ctx, "fee quote unavailable, using base fee", "error", err)
		case q.GasPrice != nil && q.GasPrice.Wei != nil:
			price = q.GasPrice.Wei
		}
	}
	if price == nil {
		price = new(big.Int)
	}
	p.deps.Gas.ObserveGas(price)
	return price
}

// plan selects the strategy for this pass and drops disabled kinds.
func (p *Pipeline) plan(snap *market.Snapshot, gasPrice *big.Int, sum *PassSummary) []opportunity.Kind {
	var mempool float64
	if p.deps.Snapshots != nil {
		mempool = p.deps.Snapshots.MempoolRate()
	}
	gasGwei, _ := gweiOf(gasPrice).Float64()

	plan, reason := domain.SelectPlan(domain.Conditions{
		GasGwei:           gasGwei,
		VolatilityPercent: p.deps.Gas.VolatilityPercent(),
		MempoolTxPerMin:   mempool,
	}, p.cfg.Thresholds)
	sum.Plan, sum.SkipReason = plan, reason

	var kinds []opportunity.Kind
	for _, k := range plan.Kinds() {
		if p.deps.Risk.StrategyEnabled(k) {
			kinds = append(kinds, k)
		}
	}
	if plan != domain.PlanSkip && len(kinds) == 0 {
		sum.SkipReason = "no_enabled_strategy"
	}
	return kinds
}

// logStageError logs err at the level its class calls for.
func (p *Pipeline) logStageError(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, apperror.LogAttrs(err)...)
	switch apperror.GetClass(err) {
	case apperror.ClassAborted:
		p.logger.Debugc(ctx, 1, msg, args...)
	case apperror.ClassPolicy:
		p.logger.Infoc(ctx, 1, msg, args...)
	case apperror.ClassTransient:
		p.logger.Warnc(ctx, 1, msg, args...)
	default:
		p.logger.Errorc(ctx, 1, msg, args...)
	}
}

func (p *Pipeline) skip(ctx context.Context, sum *PassSummary, reason string) {
	sum.SkipReason = reason
	p.logger.Debug(ctx, "pass skipped", "block", sum.Block, "plan", string(sum.Plan), "reason", reason)
	p.emit(domain.Event{
		Kind:   domain.EventPassSkipped,
		At:     p.cfg.Now(),
		Block:  sum.Block,
		Reason: reason,
	})
}

// evaluate prices every opportunity in parallel; results keep input order.
func (p *Pipeline) evaluate(ctx context.Context, opps []opportunity.Opportunity, gs profitApp.GasStrategy) []profit.ProfitAnalysis {
	out := make([]profit.ProfitAnalysis, len(opps))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, o := range opps {
		g.Go(func() error {
			out[i] = p.deps.Evaluator.Evaluate(o, gs)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// track follows a pending submission in the background. It outlives the
// pass: a newer snapshot does not abandon a bundle already at the relays.
func (p *Pipeline) track(ctx context.Context, rec submission.Record, b *bundle.Bundle, sim *bundle.SimulationResult, a profit.ProfitAnalysis) {
	ctx = context.WithoutCancel(ctx)
	p.tracking.Go(func() {
		final, err := p.deps.Submitter.Track(ctx, rec, b, a, p.head.Load)
		if err != nil {
			p.logger.Warn(ctx, "tracking stopped", "bundle_id", rec.BundleID.String(), "error", err)
		}
		if !final.State.Terminal() {
			return
		}
		p.emit(settledEvent(final, p.settle(ctx, final, b, sim, a), p.cfg.Now()))
	})
}

// settle feeds a terminal outcome to the risk governor and the strategy stats.
func (p *Pipeline) settle(ctx context.Context, rec submission.Record, b *bundle.Bundle, sim *bundle.SimulationResult, a profit.ProfitAnalysis) submission.Outcome {
	out := domain.SettleOutcome(rec, b, sim, a)
	p.deps.Risk.Record(ctx, rec, out)

	roi := decimal.Zero
	if out.Notional.IsPositive() {
		roi = out.RealizedProfit.Div(out.Notional).Mul(hundred)
	}
	p.deps.Gas.RecordOutcome(rec.Kind, out.Included, out.RealizedProfit, roi)
	return out
}

func (p *Pipeline) observeHead(block uint64) {
	for {
		cur := p.head.Load()
		if block <= cur || p.head.CompareAndSwap(cur, block) {
			return
		}
	}
}

func (p *Pipeline) emit(ev domain.Event) {
	if p.deps.Reporter != nil {
		p.deps.Reporter.Report(ev)
	}
}

func gweiOf(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

func analysisEvent(o opportunity.Opportunity, a profit.ProfitAnalysis, now time.Time) domain.Event {
	return domain.Event{
		Kind:          domain.EventProfitAnalyzed,
		At:            now,
		Block:         o.Block,
		OpportunityID: o.ID,
		Strategy:      o.Kind,
		Route:         o.Route(),
		GrossProfit:   a.GrossProfit,
		NetProfit:     a.NetProfit,
		GasCost:       a.GasCost,
		GasPriceGwei:  gweiOf(a.RecommendedGasPrice),
		ROIPercent:    a.ROIPercent,
		Profitable:    a.Profitable,
		Reason:        a.Reason,
	}
}

func simulationEvent(o opportunity.Opportunity, sim *bundle.SimulationResult, b *bundle.Bundle, err error, now time.Time) domain.Event {
	ev := domain.Event{
		Kind:          domain.EventBundleSimulated,
		At:            now,
		Block:         o.Block,
		OpportunityID: o.ID,
		Strategy:      o.Kind,
		Route:         o.Route(),
		Success:       err == nil && sim != nil && sim.Success,
	}
	if b != nil {
		ev.BundleID = b.ID
		ev.GasPriceGwei = gweiOf(b.GasFeeCap)
	}
	if sim != nil {
		ev.NetProfit = sim.RealizedNet
		ev.Detail = sim.RevertReason
	}
	if err != nil {
		ev.Reason = string(apperror.GetCode(err))
		if ev.Detail == "" {
			ev.Detail = err.Error()
		}
	}
	return ev
}

func transitionEvent(rec submission.Record, now time.Time) domain.Event {
	return domain.Event{
		Kind:         domain.EventSubmission,
		At:           now,
		Block:        rec.TargetBlock,
		BundleID:     rec.BundleID,
		Strategy:     rec.Kind,
		Route:        rec.Route,
		GasPriceGwei: gweiOf(rec.LastGasPrice),
		State:        string(rec.State),
		Reason:       string(rec.Reason),
	}
}

// settledEvent is a terminal transition carrying the realized result.
func settledEvent(rec submission.Record, out submission.Outcome, now time.Time) domain.Event {
	ev := transitionEvent(rec, now)
	ev.NetProfit = out.RealizedProfit
	ev.GasCost = out.GasCost
	return ev
}
