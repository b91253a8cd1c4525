package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/business/risk/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dt time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dt)
	c.mu.Unlock()
}

func newGovernor(t *testing.T, mutate func(*Config)) (*Governor, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		InitialBalance:      d("10"),
		BalanceFloor:        d("8"),
		MaxDailyLossPercent: d("5"),
		MaxPositionPercent:  d("50"),
		MaxGasPercent:       d("80"),
		Strategies: map[opportunity.Kind]bool{
			opportunity.KindDirect:       true,
			opportunity.KindConcentrated: false,
		},
		Now: clk.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := NewGovernor(cfg, logger.New(io.Discard, logger.LevelInfo, "test", nil))
	if err != nil {
		t.Fatalf("NewGovernor: %v", err)
	}
	return g, clk
}

func opp(kind opportunity.Kind) opportunity.Opportunity {
	return opportunity.Opportunity{ID: uuid.New(), Kind: kind}
}

func analysis(capital string) profit.ProfitAnalysis {
	return profit.ProfitAnalysis{NetProfit: d("0.02"), Profitable: true, CapitalAtRisk: d(capital)}
}

func loss(amount string) submission.Outcome {
	return submission.Outcome{Included: true, RealizedProfit: d(amount).Neg()}
}

func TestGovernor_Decide(t *testing.T) {
	tests := []struct {
		name    string
		kind    opportunity.Kind
		capital string
		want    apperror.Code
		trips   bool
	}{
		{"authorized", opportunity.KindDirect, "1", "", false},
		{"unlisted strategy", opportunity.KindMultiHop, "1", "", false},
		{"position at limit", opportunity.KindDirect, "5", "", false},
		{"strategy disabled", opportunity.KindConcentrated, "1", apperror.CodeStrategyDisabled, false},
		{"position over limit", opportunity.KindDirect, "5.01", apperror.CodeBreakerTripped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGovernor(t, nil)

			err := g.Decide(context.Background(), opp(tt.kind), analysis(tt.capital))
			if tt.want == "" {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
			} else if !apperror.HasCode(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if g.Tripped() != tt.trips {
				t.Errorf("tripped = %v, want %v", g.Tripped(), tt.trips)
			}
		})
	}
}

func TestGovernor_DailyLossLatchesUntilReset(t *testing.T) {
	g, clk := newGovernor(t, func(c *Config) { c.BalanceFloor = d("1") })
	ctx := context.Background()

	g.Record(ctx, submission.Record{}, loss("0.5"))
	if g.Tripped() {
		t.Fatal("tripped at exactly the daily loss limit")
	}

	g.Record(ctx, submission.Record{}, loss("0.01"))
	if !g.Tripped() || g.State().TripReason != domain.TripDailyLoss {
		t.Fatalf("state = %+v", g.State())
	}

	// Neither a profitable opportunity nor a new day clears it.
	clk.Advance(24 * time.Hour)
	for range 3 {
		if g.Authorize(ctx, opp(opportunity.KindDirect), analysis("0.1")) {
			t.Fatal("authorized while tripped")
		}
	}
	if s := g.State(); !s.DailyPnL.IsZero() || s.Day != "2026-03-02" {
		t.Errorf("daily counter not rolled: %+v", s)
	}

	if err := g.Reset(ctx, "ops"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !g.Authorize(ctx, opp(opportunity.KindDirect), analysis("0.1")) {
		t.Error("not authorized after reset")
	}
}

func TestGovernor_BalanceFloor(t *testing.T) {
	g, _ := newGovernor(t, nil)
	ctx := context.Background()

	var events []domain.BreakerEvent
	g.OnBreaker(func(_ context.Context, e domain.BreakerEvent) { events = append(events, e) })

	g.Record(ctx, submission.Record{}, loss("2.5"))

	if len(events) != 1 || !events[0].Tripped || events[0].Reason != domain.TripBalanceFloor {
		t.Fatalf("events = %+v", events)
	}
	if !events[0].State.Balance.Equal(d("7.5")) {
		t.Errorf("balance = %s", events[0].State.Balance)
	}
	err := g.Decide(ctx, opp(opportunity.KindDirect), analysis("0.1"))
	if !apperror.HasCode(err, apperror.CodeBreakerTripped) {
		t.Errorf("err = %v", err)
	}

	_ = g.Reset(ctx, "ops")
	if len(events) != 2 || events[1].Tripped || events[1].By != "ops" {
		t.Errorf("reset event = %+v", events)
	}
}

func TestGovernor_GasCostPostHoc(t *testing.T) {
	tests := []struct {
		name     string
		realized string
		gas      string
		trips    bool
	}{
		{"cheap", "0.05", "0.01", false},
		{"at limit", "0.002", "0.008", false},
		{"over limit", "0.001", "0.009", true},
		{"gas only", "-0.004", "0.004", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGovernor(t, nil)
			g.Record(context.Background(), submission.Record{}, submission.Outcome{
				Included:       true,
				RealizedProfit: d(tt.realized),
				GasCost:        d(tt.gas),
			})
			if g.Tripped() != tt.trips {
				t.Errorf("tripped = %v, want %v (%+v)", g.Tripped(), tt.trips, g.State())
			}
		})
	}
}

func TestGovernor_ManualTripAndReset(t *testing.T) {
	g, _ := newGovernor(t, nil)
	ctx := context.Background()

	if err := g.Reset(ctx, "ops"); !apperror.HasCode(err, apperror.CodeInvalidState) {
		t.Fatalf("reset of closed breaker: err = %v", err)
	}

	g.Trip(ctx, "ops", "maintenance")
	s := g.State()
	if !s.Tripped || s.TripReason != domain.TripManual || s.TripDetail != "maintenance" {
		t.Fatalf("state = %+v", s)
	}
}

func TestGovernor_StrategyToggle(t *testing.T) {
	g, _ := newGovernor(t, nil)
	ctx := context.Background()

	g.SetStrategyEnabled(ctx, opportunity.KindDirect, false)
	if g.StrategyEnabled(opportunity.KindDirect) {
		t.Fatal("strategy still enabled")
	}
	if g.Tripped() {
		t.Error("disabling a strategy tripped the breaker")
	}
	g.SetStrategyEnabled(ctx, opportunity.KindConcentrated, true)
	if !g.Authorize(ctx, opp(opportunity.KindConcentrated), analysis("1")) {
		t.Error("re-enabled strategy not authorized")
	}
}

func TestGovernor_ConcurrentLossesTripOnce(t *testing.T) {
	g, _ := newGovernor(t, func(c *Config) { c.BalanceFloor = d("1") })
	ctx := context.Background()

	var (
		mu    sync.Mutex
		trips int
	)
	g.OnBreaker(func(context.Context, domain.BreakerEvent) {
		mu.Lock()
		trips++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() { g.Record(ctx, submission.Record{}, loss("0.05")) })
	}
	wg.Wait()

	if s := g.State(); !s.Balance.Equal(d("9")) || !s.Tripped {
		t.Errorf("state = %+v", s)
	}
	if trips != 1 {
		t.Errorf("trips = %d, want 1", trips)
	}
}

func TestNewGovernor_Validates(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	_, err := NewGovernor(Config{InitialBalance: d("1"), BalanceFloor: d("1")}, log)
	if !apperror.HasCode(err, apperror.CodeConfigurationInvalid) {
		t.Errorf("err = %v", err)
	}
	_, err = NewGovernor(Config{InitialBalance: d("2"), MaxGasPercent: d("-1")}, log)
	if !apperror.HasCode(err, apperror.CodeConfigurationInvalid) {
		t.Errorf("err = %v", err)
	}
}
