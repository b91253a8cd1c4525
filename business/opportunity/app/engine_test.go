package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func cp(venue market.Venue, addr string, t0, t1 common.Address, r0, r1, fee string) market.Pool {
	return market.Pool{
		Key:      market.PoolKey{Venue: venue, Address: common.HexToAddress(addr)},
		Token0:   t0,
		Token1:   t1,
		Fee:      decimal.RequireFromString(fee),
		Kind:     market.KindConstantProduct,
		Reserve0: decimal.RequireFromString(r0),
		Reserve1: decimal.RequireFromString(r1),
	}
}

// concentrated is a WETH/USDC pool priced at 2000 with three deep ranges.
func concentrated() market.Pool {
	return market.Pool{
		Key:    market.PoolKey{Venue: market.VenueUniswapV3, Address: common.HexToAddress("0xc1")},
		Token0: weth,
		Token1: usdc,
		Fee:    decimal.RequireFromString("0.0005"),
		Kind:   market.KindConcentrated,
		Concentrated: &market.ConcentratedState{
			Tick:        0,
			TickSpacing: 60,
			Scale:       2000,
			Ranges: []market.TickRange{
				{Lower: -180, Upper: -60, Liquidity: 1e6},
				{Lower: -60, Upper: 60, Liquidity: 1e6},
				{Lower: 60, Upper: 180, Liquidity: 1e6},
			},
		},
	}
}

func snapshot(pools ...market.Pool) *market.Snapshot {
	return market.NewSnapshot(market.SnapshotInput{Block: 100, BaseToken: weth, Pools: pools})
}

func newEngine(t *testing.T, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		MaxHops:          3,
		TradeSizes:       []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(5), decimal.NewFromInt(10)},
		MaxTickCrossings: 2,
		ExpansionBudget:  10_000,
		MinProfit:        decimal.RequireFromString("0.01"),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg, logger.New(io.Discard, logger.LevelInfo, "test", nil))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func near(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	g, _ := got.Float64()
	if d := g - want; d > 1e-6 || d < -1e-6 {
		t.Errorf("%s = %v, want %v", name, g, want)
	}
}

func TestSearch_DirectLoop(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.003"),
		cp(market.VenueSushiswap, "0xb1", weth, usdc, "100000", "202000000", "0.003"),
	)

	opps, err := e.Search(snap).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}

	o := opps[0]
	if o.Kind != domain.KindDirect {
		t.Errorf("kind = %s, want direct", o.Kind)
	}
	if o.Hops[0].Venue != market.VenueSushiswap || o.Hops[1].Venue != market.VenueUniswapV2 {
		t.Errorf("route = %s, want sell on sushiswap then buy on uniswap", o.Route())
	}
	if !o.AmountIn.Equal(decimal.NewFromInt(10)) {
		t.Errorf("amount in = %s, want the most profitable size 10", o.AmountIn)
	}
	near(t, "gross", o.GrossProfit, 0.0979703)
	near(t, "venue fees", o.VenueFees, 0.0604879)
	if o.Block != 100 {
		t.Errorf("block = %d", o.Block)
	}
}

func TestSearch_SkipsStalePool(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.003")
	old.UpdatedAt = now.Add(-24 * time.Hour)
	fresh := cp(market.VenueSushiswap, "0xb1", weth, usdc, "100000", "202000000", "0.003")
	fresh.UpdatedAt = now
	snap := market.NewSnapshot(market.SnapshotInput{
		Block:      100,
		CapturedAt: now,
		BaseToken:  weth,
		Pools:      []market.Pool{old, fresh},
	})

	res := newEngine(t).Search(snap)
	opps, err := res.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("opportunities = %d, want none priced off the stale pool", len(opps))
	}
	var stale int
	for _, d := range res.Diagnostics() {
		if apperror.HasCode(d, apperror.CodeStalePool) {
			stale++
		}
	}
	if stale != 1 {
		t.Errorf("stale diagnostics = %d, want 1", stale)
	}
}

// A 2000/2010 price pair is a 0.5% gap, under the 0.6% round-trip fee of two
// 0.3% pools, so no direct loop qualifies.
func TestSearch_HalfPercentGapBelowFeeSum(t *testing.T) {
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.003"),
		cp(market.VenueSushiswap, "0xb1", weth, usdc, "100000", "201000000", "0.003"),
	)

	opps, err := newEngine(t).Search(snap).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("opportunities = %d, want 0", len(opps))
	}
}

func TestSearch_FeesEatTheSpread(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.005"),
		cp(market.VenueSushiswap, "0xb1", weth, usdc, "100000", "202000000", "0.005"),
	)

	opps, err := e.Search(snap).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 0 {
		t.Fatalf("opportunities = %d, want none", len(opps))
	}
}

func TestSearch_CrossVenueConvertsToBase(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.003"),
		cp(market.VenueUniswapV2, "0xd1", usdc, dai, "200000000", "200000000", "0.001"),
		cp(market.VenueSushiswap, "0xd2", usdc, dai, "200000000", "202000000", "0.001"),
	)

	opps, err := e.Search(snap, domain.KindCrossVenue).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	o := opps[0]
	if o.Kind != domain.KindCrossVenue {
		t.Errorf("kind = %s", o.Kind)
	}
	if o.StartToken() == weth {
		t.Error("cross-venue loop should not start at base")
	}
	// Trade sizes are in base units: 10 WETH of the start token at 2000 per WETH.
	near(t, "amount in base", o.AmountInBase, 10)
	if !o.GrossProfit.IsPositive() || o.GrossProfit.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("gross profit %s should be a small positive amount of base", o.GrossProfit)
	}
}

func TestSearch_MultiHopTriangle(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "10000", "20000000", "0.003"),
		cp(market.VenueSushiswap, "0xa2", usdc, dai, "20000000", "20400000", "0.003"),
		cp(market.VenuePancakeswap, "0xa3", dai, weth, "20000000", "10000", "0.003"),
	)

	opps, err := e.Search(snap).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	o := opps[0]
	if o.Kind != domain.KindMultiHop || len(o.Hops) != 3 {
		t.Fatalf("kind=%s hops=%d, want multi-hop with 3 hops", o.Kind, len(o.Hops))
	}
	if o.Hops[0].TokenOut != usdc || o.Hops[1].TokenOut != dai {
		t.Errorf("route = %s, want WETH->USDC->DAI->WETH", o.Route())
	}
	near(t, "gross", o.GrossProfit, 0.1692887)
	near(t, "net of fees", o.NetOfFees(), 0.0782217)
	if o.Complexity != 3 {
		t.Errorf("complexity = %v, want 3", o.Complexity)
	}
}

func TestSearch_ExpansionBudget(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.ExpansionBudget = 1 })
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "10000", "20000000", "0.003"),
		cp(market.VenueSushiswap, "0xa2", usdc, dai, "20000000", "20400000", "0.003"),
		cp(market.VenuePancakeswap, "0xa3", dai, weth, "20000000", "10000", "0.003"),
	)

	opps, err := e.Search(snap, domain.KindMultiHop).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 0 {
		t.Fatalf("a single expansion cannot close a 3-hop cycle, got %d", len(opps))
	}
}

func TestSearch_ConcentratedLiquidity(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "10000", "20200000", "0.003"),
		concentrated(),
	)

	opps, err := e.Search(snap).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	o := opps[0]
	if o.Kind != domain.KindConcentrated {
		t.Fatalf("kind = %s", o.Kind)
	}
	if !o.UsesConcentratedLiquidity() || o.Hops[1].PoolKind != market.KindConcentrated {
		t.Errorf("second hop should walk ticks: %s", o.Route())
	}
	near(t, "gross", o.GrossProfit, 0.0853592)
	near(t, "net of fees", o.NetOfFees(), 0.0501216)
}

func TestSearch_TickCrossingLimit(t *testing.T) {
	thin := concentrated()
	for i := range thin.Concentrated.Ranges {
		thin.Concentrated.Ranges[i].Liquidity = 100
	}
	e := newEngine(t, func(c *Config) { c.MaxTickCrossings = 0 })
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "10000", "20200000", "0.003"),
		thin,
	)

	opps, err := e.Search(snap, domain.KindConcentrated).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, o := range opps {
		for _, h := range o.Hops {
			if h.TicksCrossed > 0 {
				t.Fatalf("hop crossed %d ticks with a limit of 0", h.TicksCrossed)
			}
		}
	}
}

func TestSearch_NewSnapshotMakesOldResultsStale(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(
		cp(market.VenueUniswapV2, "0xa1", weth, usdc, "100000", "200000000", "0.003"),
		cp(market.VenueSushiswap, "0xb1", weth, usdc, "100000", "202000000", "0.003"),
	)

	old := e.Search(snap)
	fresh := e.Search(snap)

	if _, _, err := old.Next(context.Background()); !apperror.HasCode(err, apperror.CodeStaleSnapshot) {
		t.Fatalf("old search err = %v, want STALE_SNAPSHOT", err)
	}
	if fresh.Generation() <= old.Generation() {
		t.Errorf("generations not increasing: %d then %d", old.Generation(), fresh.Generation())
	}
	if _, ok, err := fresh.Next(context.Background()); err != nil || !ok {
		t.Fatalf("fresh search: ok=%v err=%v", ok, err)
	}

	// Once consumed the sequence stays exhausted.
	if _, ok, _ := fresh.Next(context.Background()); ok {
		t.Error("results should not restart")
	}
}

func TestSelectPerPair(t *testing.T) {
	one := decimal.NewFromInt(1)
	mk := func(v market.Venue, gross string) domain.Opportunity {
		o, err := domain.New(domain.Params{
			Kind: domain.KindDirect,
			Hops: []domain.Hop{
				{Venue: v, TokenIn: weth, TokenOut: usdc},
				{Venue: market.VenueUniswapV2, TokenIn: usdc, TokenOut: weth},
			},
			AmountIn:    one,
			GrossProfit: decimal.RequireFromString(gross),
		})
		if err != nil {
			t.Fatal(err)
		}
		return o
	}

	cheap := mk(market.VenueSushiswap, "0.02")
	complexRich := mk(market.VenueCurve, "0.9")
	cheapPoor := mk(market.VenuePancakeswap, "0.01")

	got := selectPerPair([]domain.Opportunity{complexRich, cheapPoor, cheap})
	if len(got) != 1 {
		t.Fatalf("survivors = %d, want 1 per pair", len(got))
	}
	if got[0].ID != cheap.ID {
		t.Errorf("winner = %s, want the low-complexity higher-profit loop", got[0].Route())
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	if _, err := NewEngine(Config{MaxHops: 1, TradeSizes: []decimal.Decimal{decimal.NewFromInt(1)}}, log); !apperror.HasCode(err, apperror.CodeConfigurationInvalid) {
		t.Errorf("max hops 1: err = %v", err)
	}
	if _, err := NewEngine(Config{MaxHops: 3}, log); !apperror.HasCode(err, apperror.CodeConfigurationInvalid) {
		t.Errorf("no trade sizes: err = %v", err)
	}
}
