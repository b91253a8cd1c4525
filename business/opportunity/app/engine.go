// Package app contains the opportunity search engine.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/opportunity/app"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/opportunity/app"
)

// Config holds search limits.
type Config struct {
	MaxHops int
	// TradeSizes are probed in base-token units.
	TradeSizes       []decimal.Decimal
	MaxTickCrossings int
	ExpansionBudget  int
	// MaxPoolAge bounds how old a pool read may be relative to the snapshot.
	MaxPoolAge time.Duration
	MinProfit  decimal.Decimal
}

// DefaultMaxPoolAge applies when Config.MaxPoolAge is zero.
const DefaultMaxPoolAge = time.Minute

type engineMetrics struct {
	found      metric.Int64Counter
	stale      metric.Int64Counter
	searchTime metric.Float64Histogram
}

// Engine searches snapshots for profitable trade paths. Only the most recent
// search is live: starting a new one invalidates the results of every earlier one.
type Engine struct {
	cfg    Config
	logger logger.LoggerInterface

	generation atomic.Uint64

	tracer  trace.Tracer
	metrics *engineMetrics
}

// NewEngine creates a search engine.
func NewEngine(cfg Config, log logger.LoggerInterface) (*Engine, error) {
	if cfg.MaxHops < 2 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext(fmt.Sprintf("max hops %d < 2", cfg.MaxHops)))
	}
	if len(cfg.TradeSizes) == 0 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("no trade sizes"))
	}
	if cfg.ExpansionBudget <= 0 {
		cfg.ExpansionBudget = 10_000
	}
	if cfg.MaxPoolAge <= 0 {
		cfg.MaxPoolAge = DefaultMaxPoolAge
	}

	e := &Engine{
		cfg:    cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return e, nil
}

func (e *Engine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &engineMetrics{}

	e.metrics.found, err = meter.Int64Counter(
		"opportunities_found_total",
		metric.WithDescription("Opportunities emitted by the search engine"),
	)
	if err != nil {
		return err
	}

	e.metrics.stale, err = meter.Int64Counter(
		"opportunity_searches_stale_total",
		metric.WithDescription("Searches abandoned because a newer snapshot arrived"),
	)
	if err != nil {
		return err
	}

	e.metrics.searchTime, err = meter.Float64Histogram(
		"opportunity_search_latency_ms",
		metric.WithDescription("Time to search one snapshot"),
		metric.WithUnit("ms"),
	)
	return err
}

// Search prepares a search of snap restricted to kinds (all kinds when empty).
// No work happens until the first call to Results.Next.
func (e *Engine) Search(snap *market.Snapshot, kinds ...domain.Kind) *Results {
	if len(kinds) == 0 {
		kinds = domain.Kinds
	}
	return &Results{
		engine:     e,
		snap:       snap,
		kinds:      slices.Clone(kinds),
		generation: e.generation.Add(1),
	}
}

// Results is the lazily computed outcome of one search. It is consumed once by
// a single goroutine and cannot be restarted.
type Results struct {
	engine     *Engine
	snap       *market.Snapshot
	kinds      []domain.Kind
	generation uint64

	once  sync.Once
	items []domain.Opportunity
	diags []error
	err   error
	pos   int
}

// Generation identifies the search; a larger generation supersedes a smaller one.
func (r *Results) Generation() uint64 { return r.generation }

// Next returns the next opportunity. ok is false once the results are
// exhausted. A superseded search fails with STALE_SNAPSHOT.
func (r *Results) Next(ctx context.Context) (opp domain.Opportunity, ok bool, err error) {
	r.once.Do(func() { r.items, r.diags, r.err = r.engine.run(ctx, r) })
	if r.err != nil {
		return domain.Opportunity{}, false, r.err
	}
	if err := r.stale(); err != nil {
		return domain.Opportunity{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Opportunity{}, false, err
	}
	if r.pos >= len(r.items) {
		return domain.Opportunity{}, false, nil
	}
	opp = r.items[r.pos]
	r.pos++
	return opp, true, nil
}

// Collect drains the remaining results.
func (r *Results) Collect(ctx context.Context) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for {
		opp, ok, err := r.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, opp)
	}
}

// Diagnostics returns the per-pool problems met during the search.
func (r *Results) Diagnostics() []error { return slices.Clone(r.diags) }

func (r *Results) stale() error {
	if cur := r.engine.generation.Load(); cur != r.generation {
		return apperror.New(apperror.CodeStaleSnapshot,
			apperror.WithContext(fmt.Sprintf("search %d superseded by %d", r.generation, cur)))
	}
	return nil
}

// run is the working state of one search.
type run struct {
	ctx     context.Context
	cfg     Config
	snap    *market.Snapshot
	graph   *domain.Graph
	results *Results
	logger  logger.LoggerInterface

	mu    sync.Mutex
	diags []error
}

func (e *Engine) run(ctx context.Context, res *Results) ([]domain.Opportunity, []error, error) {
	ctx, span := e.tracer.Start(ctx, "opportunity.search",
		trace.WithAttributes(
			attribute.Int64("block", int64(res.snap.Block())),
			attribute.Int64("generation", int64(res.generation)),
		),
	)
	defer span.End()
	start := time.Now()

	graph, diags := domain.BuildGraph(res.snap, e.cfg.MaxPoolAge)
	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		ctx:     gctx,
		cfg:     e.cfg,
		snap:    res.snap,
		graph:   graph,
		results: res,
		logger:  e.logger,
		diags:   diags,
	}

	searches := map[domain.Kind]func() ([]domain.Opportunity, error){
		domain.KindDirect:       r.searchDirect,
		domain.KindMultiHop:     func() ([]domain.Opportunity, error) { return r.searchPaths(multiHopClass) },
		domain.KindConcentrated: func() ([]domain.Opportunity, error) { return r.searchPaths(concentratedClass) },
	}
	// Direct and cross-venue loops come out of the same pair scan.
	wantDirect := slices.Contains(res.kinds, domain.KindDirect) || slices.Contains(res.kinds, domain.KindCrossVenue)

	var (
		mu    sync.Mutex
		found []domain.Opportunity
	)
	for kind, search := range searches {
		if kind == domain.KindDirect && !wantDirect {
			continue
		}
		if kind != domain.KindDirect && !slices.Contains(res.kinds, kind) {
			continue
		}
		g.Go(func() error {
			opps, err := search()
			if err != nil {
				return err
			}
			mu.Lock()
			found = append(found, opps...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if apperror.HasCode(err, apperror.CodeStaleSnapshot) {
			e.metrics.stale.Add(ctx, 1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "search aborted")
		return nil, r.diags, err
	}

	found = slices.DeleteFunc(found, func(o domain.Opportunity) bool {
		return !slices.Contains(res.kinds, o.Kind)
	})
	items := selectPerPair(found)

	for _, o := range items {
		e.metrics.found.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(o.Kind))))
	}
	e.metrics.searchTime.Record(ctx, float64(time.Since(start).Milliseconds()))

	span.SetAttributes(
		attribute.Int("candidates", len(found)),
		attribute.Int("opportunities", len(items)),
		attribute.Int("diagnostics", len(r.diags)),
	)
	span.SetStatus(codes.Ok, "search complete")
	return items, r.diags, nil
}

// selectPerPair keeps one opportunity per token set, preferring lower
// complexity and then higher gross profit. The survivors are ordered by profit
// net of venue fees, highest first.
func selectPerPair(found []domain.Opportunity) []domain.Opportunity {
	winners := make(map[string]domain.Opportunity)
	for _, o := range found {
		key := o.PairKey()
		if cur, ok := winners[key]; !ok || o.Better(cur) {
			winners[key] = o
		}
	}

	out := make([]domain.Opportunity, 0, len(winners))
	for _, o := range winners {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.Opportunity) int {
		if c := b.NetOfFees().Cmp(a.NetOfFees()); c != 0 {
			return c
		}
		return strings.Compare(a.Route(), b.Route())
	})
	return out
}

// checkpoint aborts a search whose context is done or whose snapshot is superseded.
func (r *run) checkpoint() error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.results.stale()
}

func (r *run) diag(err error) {
	r.mu.Lock()
	r.diags = append(r.diags, err)
	r.mu.Unlock()
}

func (r *run) budgetExhausted(kind domain.Kind, expansions int) {
	r.logger.Debug(r.ctx, "search budget exhausted",
		"kind", kind,
		"block", r.snap.Block(),
		"expansions", expansions,
	)
}

// emit converts a quote into an opportunity; toBase converts start-token units
// to base units.
func (r *run) emit(kind domain.Kind, q quote, toBase decimal.Decimal) (domain.Opportunity, bool) {
	opp, err := domain.New(domain.Params{
		Block:        r.snap.Block(),
		Kind:         kind,
		Hops:         q.hops,
		AmountIn:     q.amountIn,
		AmountInBase: q.amountIn.Mul(toBase),
		GrossProfit:  q.gross().Mul(toBase),
		VenueFees:    q.fees().Mul(toBase),
	})
	if err != nil {
		r.diag(err)
		return domain.Opportunity{}, false
	}
	return opp, true
}
