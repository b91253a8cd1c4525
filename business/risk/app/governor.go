// Package app implements the risk governor: the single owner of risk state.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/business/risk/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const meterName = "github.com/fd1az/arbitrage-pipeline/business/risk"

var hundred = decimal.NewFromInt(100)

// Config holds the governor's limits and starting state.
type Config struct {
	InitialBalance      decimal.Decimal
	BalanceFloor        decimal.Decimal
	MaxDailyLossPercent decimal.Decimal
	MaxPositionPercent  decimal.Decimal
	MaxGasPercent       decimal.Decimal
	Strategies          map[opportunity.Kind]bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// ConfigFromSettings maps the risk and strategy sections of the app config.
func ConfigFromSettings(r config.RiskConfig, s config.StrategyConfig) Config {
	strategies := make(map[opportunity.Kind]bool, len(s.Enabled))
	for k, v := range s.Enabled {
		strategies[opportunity.Kind(k)] = v
	}
	return Config{
		InitialBalance:      decimal.NewFromFloat(r.InitialBalance),
		BalanceFloor:        decimal.NewFromFloat(r.BalanceFloor),
		MaxDailyLossPercent: decimal.NewFromFloat(r.MaxDailyLossPercent),
		MaxPositionPercent:  decimal.NewFromFloat(r.MaxPositionPercent),
		MaxGasPercent:       decimal.NewFromFloat(r.MaxGasPercent),
		Strategies:          strategies,
	}
}

// Listener receives breaker trips and resets. Called outside the lock.
type Listener func(ctx context.Context, e domain.BreakerEvent)

type governorMetrics struct {
	decisions metric.Int64Counter
	trips     metric.Int64Counter
}

// Governor gates submissions and halts the pipeline on adverse outcomes.
// Every state mutation happens under one mutex; nothing under it blocks.
type Governor struct {
	cfg    Config
	logger logger.LoggerInterface

	mu        sync.Mutex
	state     domain.State
	listeners []Listener

	metrics *governorMetrics
}

// NewGovernor creates a governor starting at cfg.InitialBalance.
func NewGovernor(cfg Config, log logger.LoggerInterface) (*Governor, error) {
	for name, v := range map[string]decimal.Decimal{
		"balance floor":          cfg.BalanceFloor,
		"max daily loss percent": cfg.MaxDailyLossPercent,
		"max position percent":   cfg.MaxPositionPercent,
		"max gas percent":        cfg.MaxGasPercent,
	} {
		if v.IsNegative() {
			return nil, apperror.New(apperror.CodeConfigurationInvalid,
				apperror.WithContext(name+" must not be negative"))
		}
	}
	if cfg.InitialBalance.LessThanOrEqual(cfg.BalanceFloor) {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("initial balance must exceed the balance floor"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Governor{
		cfg:    cfg,
		logger: log,
		state:  domain.NewState(cfg.InitialBalance, cfg.Strategies, cfg.Now()),
	}
	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return g, nil
}

func (g *Governor) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &governorMetrics{}

	g.metrics.decisions, err = meter.Int64Counter(
		"risk_decisions_total",
		metric.WithDescription("Authorization decisions by result"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	g.metrics.trips, err = meter.Int64Counter(
		"risk_breaker_trips_total",
		metric.WithDescription("Breaker trips by reason"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.Float64ObservableGauge(
		"risk_balance",
		metric.WithDescription("Tracked balance in base-asset units"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			bal, _ := g.State().Balance.Float64()
			o.Observe(bal)
			return nil
		}),
	)
	return err
}

// OnBreaker registers l for breaker trips and resets.
func (g *Governor) OnBreaker(l Listener) {
	g.mu.Lock()
	g.listeners = append(g.listeners, l)
	g.mu.Unlock()
}

// Authorize reports whether o may proceed to bundle building.
func (g *Governor) Authorize(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) bool {
	return g.Decide(ctx, o, a) == nil
}

// Decide is Authorize with the reason: BREAKER_TRIPPED or STRATEGY_DISABLED.
// A proposal larger than the position limit trips the breaker.
func (g *Governor) Decide(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) error {
	now := g.cfg.Now()

	g.mu.Lock()
	g.state.Rollover(now)

	var (
		err     error
		tripped *domain.BreakerEvent
	)
	switch {
	case g.state.Tripped:
		err = g.breakerErr()
	case !g.state.StrategyEnabled(o.Kind):
		err = apperror.New(apperror.CodeStrategyDisabled,
			apperror.WithContext(string(o.Kind)))
	default:
		if pct, over := g.positionExceeded(a.CapitalAtRisk); over {
			detail := fmt.Sprintf("position %s%% of balance on %s", pct.StringFixed(2), o.Route())
			tripped = g.trip(domain.TripPositionSize, detail, "", now)
			err = g.breakerErr()
		}
	}
	listeners := g.listeners
	g.mu.Unlock()

	result := "authorized"
	if err != nil {
		result = string(apperror.GetCode(err))
		// Gating outcomes are policy decisions, not failures.
		g.logger.Info(ctx, "opportunity not authorized",
			"opportunity_id", o.ID.String(),
			"route", o.Route(),
			"reason", result,
		)
	}
	g.metrics.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if tripped != nil {
		g.announce(ctx, *tripped, listeners)
	}
	return err
}

func (g *Governor) positionExceeded(notional decimal.Decimal) (decimal.Decimal, bool) {
	if !notional.IsPositive() {
		return decimal.Zero, false
	}
	if !g.state.Balance.IsPositive() {
		return hundred, true
	}
	pct := notional.Div(g.state.Balance).Mul(hundred)
	return pct, pct.GreaterThan(g.cfg.MaxPositionPercent)
}

// Record applies a terminal submission outcome to the balance and daily P&L
// and trips the breaker if a limit is now exceeded.
func (g *Governor) Record(ctx context.Context, rec submission.Record, out submission.Outcome) {
	now := g.cfg.Now()

	g.mu.Lock()
	g.state.Rollover(now)
	g.state.Balance = g.state.Balance.Add(out.RealizedProfit)
	g.state.DailyPnL = g.state.DailyPnL.Add(out.RealizedProfit)

	var tripped *domain.BreakerEvent
	switch {
	case g.state.Balance.LessThan(g.cfg.BalanceFloor):
		tripped = g.trip(domain.TripBalanceFloor,
			fmt.Sprintf("balance %s below floor %s", g.state.Balance, g.cfg.BalanceFloor), "", now)
	case g.state.DailyLossPercent().GreaterThan(g.cfg.MaxDailyLossPercent):
		tripped = g.trip(domain.TripDailyLoss,
			fmt.Sprintf("daily loss %s%%", g.state.DailyLossPercent().StringFixed(2)), "", now)
	default:
		if pct, over := gasExceeded(out, g.cfg.MaxGasPercent); over {
			tripped = g.trip(domain.TripGasCost,
				fmt.Sprintf("gas %s%% of profit on %s", pct.StringFixed(2), rec.Route), "", now)
		}
	}
	balance := g.state.Balance
	daily := g.state.DailyPnL
	listeners := g.listeners
	g.mu.Unlock()

	g.logger.Info(ctx, "risk outcome recorded",
		"bundle_id", rec.BundleID.String(),
		"included", out.Included,
		"realized", out.RealizedProfit.String(),
		"balance", balance.String(),
		"daily_pnl", daily.String(),
	)
	if tripped != nil {
		g.announce(ctx, *tripped, listeners)
	}
}

// gasExceeded compares gas spent to the profit before gas.
func gasExceeded(out submission.Outcome, maxPercent decimal.Decimal) (decimal.Decimal, bool) {
	if !out.GasCost.IsPositive() {
		return decimal.Zero, false
	}
	gross := out.RealizedProfit.Add(out.GasCost)
	if !gross.IsPositive() {
		return hundred, true
	}
	pct := out.GasCost.Div(gross).Mul(hundred)
	return pct, pct.GreaterThan(maxPercent)
}

// Trip halts the pipeline on operator request.
func (g *Governor) Trip(ctx context.Context, by, detail string) {
	g.mu.Lock()
	tripped := g.trip(domain.TripManual, detail, by, g.cfg.Now())
	listeners := g.listeners
	g.mu.Unlock()

	if tripped != nil {
		g.announce(ctx, *tripped, listeners)
	}
}

// Reset clears a tripped breaker. It is the only way to clear one.
func (g *Governor) Reset(ctx context.Context, by string) error {
	now := g.cfg.Now()

	g.mu.Lock()
	if !g.state.Tripped {
		g.mu.Unlock()
		return apperror.New(apperror.CodeInvalidState,
			apperror.WithContext("breaker is not tripped"))
	}
	prev := g.state.TripReason
	g.state.Clear()
	ev := domain.BreakerEvent{Reason: prev, By: by, At: now, State: g.state.Clone()}
	listeners := g.listeners
	g.mu.Unlock()

	g.announce(ctx, ev, listeners)
	return nil
}

// SetStrategyEnabled toggles one path classification.
func (g *Governor) SetStrategyEnabled(ctx context.Context, kind opportunity.Kind, enabled bool) {
	g.mu.Lock()
	g.state.Strategies[kind] = enabled
	g.mu.Unlock()

	g.logger.Info(ctx, "strategy toggled", "strategy", string(kind), "enabled", enabled)
}

// StrategyEnabled reports whether kind may be evaluated.
func (g *Governor) StrategyEnabled(kind opportunity.Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.StrategyEnabled(kind)
}

// Tripped reports whether the breaker is latched.
func (g *Governor) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Tripped
}

// State returns a copy of the current risk state.
func (g *Governor) State() domain.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// trip must be called with g.mu held.
func (g *Governor) trip(reason domain.TripReason, detail, by string, now time.Time) *domain.BreakerEvent {
	if !g.state.Trip(reason, detail, now) {
		return nil
	}
	return &domain.BreakerEvent{
		Tripped: true,
		Reason:  reason,
		Detail:  detail,
		By:      by,
		At:      now,
		State:   g.state.Clone(),
	}
}

// breakerErr must be called with g.mu held.
func (g *Governor) breakerErr() error {
	return apperror.New(apperror.CodeBreakerTripped,
		apperror.WithContext(string(g.state.TripReason)))
}

func (g *Governor) announce(ctx context.Context, ev domain.BreakerEvent, listeners []Listener) {
	if ev.Tripped {
		g.metrics.trips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(ev.Reason))))
		g.logger.Warn(ctx, "risk breaker tripped",
			"reason", string(ev.Reason),
			"detail", ev.Detail,
			"by", ev.By,
			"balance", ev.State.Balance.String(),
		)
	} else {
		g.logger.Info(ctx, "risk breaker reset", "previous_reason", string(ev.Reason), "by", ev.By)
	}
	for _, l := range listeners {
		l(ctx, ev)
	}
}
