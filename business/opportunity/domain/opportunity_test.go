package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func hop(venue market.Venue, in, out common.Address) Hop {
	return Hop{
		Venue:    venue,
		Pool:     common.HexToAddress("0x01"),
		TokenIn:  in,
		TokenOut: out,
		GasUnits: venue.SwapGas(),
	}
}

func TestNew_DerivesGasAndComplexity(t *testing.T) {
	opp, err := New(Params{
		Kind: KindDirect,
		Hops: []Hop{
			hop(market.VenueUniswapV2, weth, usdc),
			hop(market.VenueCurve, usdc, weth),
		},
		AmountIn: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if want := market.BaseTxGas + 100_000 + 200_000; opp.GasUnits != want {
		t.Errorf("gas units = %d, want %d", opp.GasUnits, want)
	}
	if opp.Complexity != 8 {
		t.Errorf("complexity = %v, want 8 (2 hops x curve weight 4)", opp.Complexity)
	}
	if !opp.AmountInBase.Equal(opp.AmountIn) {
		t.Errorf("amount in base defaults to amount in, got %s", opp.AmountInBase)
	}
}

func TestValidate(t *testing.T) {
	one := decimal.NewFromInt(1)

	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{
			name: "closed loop",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
				hop(market.VenueSushiswap, usdc, weth),
			}, AmountIn: one},
		},
		{
			name: "broken chain",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
				hop(market.VenueSushiswap, dai, weth),
			}, AmountIn: one},
			wantErr: true,
		},
		{
			name: "open path",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
			}, AmountIn: one},
			wantErr: true,
		},
		{
			name: "open-ended without settlement",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
			}, AmountIn: one, OpenEnded: true},
			wantErr: true,
		},
		{
			name: "open-ended with settlement",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
			}, AmountIn: one, OpenEnded: true, Settlement: &Settlement{Token: usdc, Description: "off-venue sale"}},
		},
		{
			name:    "no hops",
			params:  Params{AmountIn: one},
			wantErr: true,
		},
		{
			name: "zero amount",
			params: Params{Hops: []Hop{
				hop(market.VenueUniswapV2, weth, usdc),
				hop(market.VenueSushiswap, usdc, weth),
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperror.HasCode(err, apperror.CodeValidationError) {
				t.Errorf("code = %s, want VALIDATION_ERROR", apperror.GetCode(err))
			}
		})
	}
}

func TestPairKey_IgnoresDirection(t *testing.T) {
	one := decimal.NewFromInt(1)
	a, err := New(Params{Hops: []Hop{
		hop(market.VenueUniswapV2, weth, usdc),
		hop(market.VenueSushiswap, usdc, weth),
	}, AmountIn: one})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Params{Hops: []Hop{
		hop(market.VenueSushiswap, usdc, weth),
		hop(market.VenueUniswapV2, weth, usdc),
	}, AmountIn: one})
	if err != nil {
		t.Fatal(err)
	}
	if a.PairKey() != b.PairKey() {
		t.Errorf("pair keys differ: %q vs %q", a.PairKey(), b.PairKey())
	}
}

func TestBetter(t *testing.T) {
	one := decimal.NewFromInt(1)
	loop := func(v market.Venue, gross float64) Opportunity {
		o, err := New(Params{Hops: []Hop{
			hop(v, weth, usdc),
			hop(market.VenueUniswapV2, usdc, weth),
		}, AmountIn: one, GrossProfit: decimal.NewFromFloat(gross)})
		if err != nil {
			t.Fatal(err)
		}
		return o
	}

	simple := loop(market.VenueSushiswap, 0.01)
	complexRich := loop(market.VenueBalancer, 0.5)
	simpleRich := loop(market.VenueSushiswap, 0.02)

	if !simple.Better(complexRich) {
		t.Error("lower complexity should win regardless of profit")
	}
	if !simpleRich.Better(simple) {
		t.Error("equal complexity should fall back to gross profit")
	}
}
