package domain

import (
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

func pool(venue market.Venue, addr string, t0, t1 common.Address, r0, r1 string) market.Pool {
	return market.Pool{
		Key:      market.PoolKey{Venue: venue, Address: common.HexToAddress(addr)},
		Token0:   t0,
		Token1:   t1,
		Fee:      decimal.RequireFromString("0.003"),
		Kind:     market.KindConstantProduct,
		Reserve0: decimal.RequireFromString(r0),
		Reserve1: decimal.RequireFromString(r1),
	}
}

func TestBuildGraph_SkipsMalformedPools(t *testing.T) {
	broken := pool(market.VenueSushiswap, "0xb2", weth, usdc, "0", "100")
	snap := market.NewSnapshot(market.SnapshotInput{
		BaseToken: weth,
		Pools: []market.Pool{
			pool(market.VenueUniswapV2, "0xa1", weth, usdc, "1000", "2000000"),
			broken,
		},
	})

	g, diags := BuildGraph(snap, 0)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if len(g.Pools) != 1 || len(g.Edges) != 2 {
		t.Fatalf("pools=%d edges=%d, want 1 and 2", len(g.Pools), len(g.Edges))
	}

	w, _ := g.Node(weth)
	u, _ := g.Node(usdc)
	if got := g.EdgeFrom(0, u); g.Edges[got].From != u || g.Edges[got].To != w {
		t.Errorf("EdgeFrom(usdc) = %+v", g.Edges[got])
	}
	if rate := g.Edges[g.EdgeFrom(0, w)].Rate; math.Abs(rate-2000) > 1e-9 {
		t.Errorf("rate weth->usdc = %v, want 2000", rate)
	}
}

func TestBuildGraph_SkipsStalePools(t *testing.T) {
	captured := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		updatedAt time.Time
		maxAge    time.Duration
		wantPools int
	}{
		{"fresh", captured.Add(-time.Second), time.Minute, 2},
		{"at the limit", captured.Add(-time.Minute), time.Minute, 2},
		{"day old", captured.Add(-24 * time.Hour), time.Minute, 1},
		{"unstamped", time.Time{}, time.Minute, 2},
		{"check disabled", captured.Add(-24 * time.Hour), 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh := pool(market.VenueUniswapV2, "0xa1", weth, usdc, "1000", "2000000")
			fresh.UpdatedAt = captured
			old := pool(market.VenueSushiswap, "0xa2", weth, usdc, "1000", "2010000")
			old.UpdatedAt = tt.updatedAt
			snap := market.NewSnapshot(market.SnapshotInput{
				CapturedAt: captured,
				BaseToken:  weth,
				Pools:      []market.Pool{fresh, old},
			})

			g, diags := BuildGraph(snap, tt.maxAge)
			if len(g.Pools) != tt.wantPools {
				t.Fatalf("pools = %d, want %d", len(g.Pools), tt.wantPools)
			}
			skipped := 2 - tt.wantPools
			if len(diags) != skipped {
				t.Fatalf("diagnostics = %v", diags)
			}
			if skipped == 1 && !apperror.HasCode(diags[0], apperror.CodeStalePool) {
				t.Errorf("diagnostic = %v, want STALE_POOL", diags[0])
			}
		})
	}
}

func TestBestRates(t *testing.T) {
	// WETH -> USDC -> DAI -> WETH multiplies mid rates to 1.02.
	snap := market.NewSnapshot(market.SnapshotInput{
		BaseToken: weth,
		Pools: []market.Pool{
			pool(market.VenueUniswapV2, "0xa1", weth, usdc, "1000", "2000000"),
			pool(market.VenueSushiswap, "0xa2", usdc, dai, "2000000", "2040000"),
			pool(market.VenuePancakeswap, "0xa3", dai, weth, "2000000", "1000"),
		},
	})
	g, _ := BuildGraph(snap, 0)
	w, _ := g.Node(weth)
	u, _ := g.Node(usdc)

	best := g.BestRates(w, 3)

	if best[0][w] != 1 || best[0][u] != 0 {
		t.Fatalf("zero-hop rates = %v", best[0])
	}
	// USDC reaches WETH in one hop at 1/2000 or two hops via DAI at 1.02/2000.
	if got, want := best[1][u], 1.0/2000; math.Abs(got-want) > 1e-12 {
		t.Errorf("best[1][usdc] = %v, want %v", got, want)
	}
	if got, want := best[2][u], 1.02/2000; math.Abs(got-want) > 1e-12 {
		t.Errorf("best[2][usdc] = %v, want %v", got, want)
	}
	if got := best[3][w]; math.Abs(got-1.02) > 1e-9 {
		t.Errorf("best[3][weth] = %v, want 1.02", got)
	}
}
