package domain

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

var (
	tokA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokB = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

func cpPool(r0, r1 string) Pool {
	return Pool{
		Key:      PoolKey{Venue: VenueUniswapV2, Address: common.HexToAddress("0x01")},
		Token0:   tokA,
		Token1:   tokB,
		Fee:      decimal.RequireFromString("0.003"),
		Kind:     KindConstantProduct,
		Reserve0: decimal.RequireFromString(r0),
		Reserve1: decimal.RequireFromString(r1),
	}
}

func clPool() Pool {
	return Pool{
		Key:    PoolKey{Venue: VenueUniswapV3, Address: common.HexToAddress("0x02")},
		Token0: tokA,
		Token1: tokB,
		Fee:    decimal.RequireFromString("0.0005"),
		Kind:   KindConcentrated,
		Concentrated: &ConcentratedState{
			Tick:        0,
			TickSpacing: 60,
			Scale:       1,
			Ranges: []TickRange{
				{Lower: -90, Upper: -30, Liquidity: 1000},
				{Lower: -30, Upper: 30, Liquidity: 1000},
				{Lower: 30, Upper: 90, Liquidity: 1000},
				{Lower: 90, Upper: 150, Liquidity: 1000},
			},
		},
	}
}

func TestPool_SwapExactIn_ConstantProduct(t *testing.T) {
	p := cpPool("100", "200000")

	res, err := p.SwapExactIn(tokA, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("SwapExactIn: %v", err)
	}
	// 200000 * 1 / 101
	want := decimal.RequireFromString("1980.19801980198019802")
	if res.AmountOut.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.000001")) {
		t.Errorf("AmountOut = %s, want ~%s", res.AmountOut, want)
	}

	if _, err := p.SwapExactIn(common.HexToAddress("0xdead"), decimal.NewFromInt(1)); err == nil {
		t.Error("expected error for foreign token")
	}
}

func TestPool_MidRate(t *testing.T) {
	p := cpPool("100", "200000")
	if got := p.MidRate(tokA); got != 2000 {
		t.Errorf("MidRate(A) = %v, want 2000", got)
	}
	if got := p.MidRate(tokB); math.Abs(got-0.0005) > 1e-12 {
		t.Errorf("MidRate(B) = %v, want 0.0005", got)
	}

	cl := clPool()
	if got := cl.MidRate(tokA); math.Abs(got-1) > 1e-9 {
		t.Errorf("concentrated MidRate = %v, want 1", got)
	}
}

func TestPool_WalkTicks(t *testing.T) {
	tests := []struct {
		name        string
		tokenIn     common.Address
		amount      string
		wantCrossed int
		wantCode    apperror.Code
	}{
		{"inside active range", tokB, "1", 0, ""},
		{"crosses one adjacent range up", tokB, "3", 1, ""},
		{"crosses one adjacent range down", tokA, "3", 1, ""},
		{"leaves the window", tokB, "10", 0, apperror.CodeTickWindowExceeded},
		{"leaves the window below", tokA, "10", 0, apperror.CodeTickWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := clPool().SwapExactIn(tt.tokenIn, decimal.RequireFromString(tt.amount))
			if tt.wantCode != "" {
				if apperror.GetCode(err) != tt.wantCode {
					t.Fatalf("err = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("SwapExactIn: %v", err)
			}
			if res.TicksCrossed != tt.wantCrossed {
				t.Errorf("TicksCrossed = %d, want %d", res.TicksCrossed, tt.wantCrossed)
			}
			if !res.AmountOut.IsPositive() {
				t.Errorf("AmountOut = %s, want > 0", res.AmountOut)
			}
		})
	}

	// Near price 1 with deep liquidity, output is close to input minus impact.
	res, _ := clPool().SwapExactIn(tokB, decimal.NewFromInt(1))
	got, _ := res.AmountOut.Float64()
	if math.Abs(got-0.999000999) > 1e-6 {
		t.Errorf("AmountOut = %v, want ~0.999001", got)
	}
}

func TestPool_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pool)
	}{
		{"zero reserve", func(p *Pool) { p.Reserve0 = decimal.Zero }},
		{"same tokens", func(p *Pool) { p.Token1 = p.Token0 }},
		{"fee too high", func(p *Pool) { p.Fee = decimal.NewFromInt(1) }},
		{"unknown kind", func(p *Pool) { p.Kind = "orderbook" }},
		{"concentrated without ranges", func(p *Pool) { p.Kind = KindConcentrated }},
	}

	if err := cpPool("1", "1").Validate(); err != nil {
		t.Fatalf("valid pool: %v", err)
	}
	if err := clPool().Validate(); err != nil {
		t.Fatalf("valid concentrated pool: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := cpPool("1", "1")
			tt.mutate(&p)
			if apperror.GetCode(p.Validate()) != apperror.CodeMalformedPool {
				t.Errorf("Validate() = %v, want MALFORMED_POOL", p.Validate())
			}
		})
	}

	gap := clPool()
	gap.Concentrated.Ranges[2].Lower = 40
	if gap.Validate() == nil {
		t.Error("expected gap in ranges to be rejected")
	}

	outside := clPool()
	outside.Concentrated.Tick = 500
	if outside.Validate() == nil {
		t.Error("expected tick outside ranges to be rejected")
	}
}
