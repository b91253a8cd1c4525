package asset

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestRegistry_Lookup(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		symbol string
		chain  uint64
		want   *Asset
	}{
		{"WETH", ChainIDEthereum, WETH},
		{"usdc", ChainIDEthereum, USDC},
		{"WETH", ChainIDSepolia, nil},
		{"PEPE", ChainIDEthereum, nil},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got, ok := r.Lookup(tt.symbol, tt.chain)
			if ok != (tt.want != nil) || (ok && !got.Equals(tt.want)) {
				t.Errorf("Lookup(%s, %d) = %v, %v", tt.symbol, tt.chain, got, ok)
			}
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	r := DefaultRegistry()
	link := NewToken(ChainIDEthereum, common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), "LINK", "Chainlink", 18)

	if err := r.Register(link); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(link); err == nil {
		t.Error("duplicate id accepted")
	}
	clash := NewToken(ChainIDEthereum, common.HexToAddress("0x01"), "link", "", 18)
	if err := r.Register(clash); err == nil {
		t.Error("duplicate symbol on the same chain accepted")
	}
	sepolia := NewToken(ChainIDSepolia, common.HexToAddress("0x01"), "LINK", "", 18)
	if err := r.Register(sepolia); err != nil {
		t.Errorf("same symbol on another chain: %v", err)
	}

	if got, ok := r.GetToken(ChainIDEthereum, link.Address()); !ok || got != link {
		t.Errorf("GetToken = %v, %v", got, ok)
	}
	if _, ok := r.GetToken(ChainIDEthereum, common.Address{}); ok {
		t.Error("zero address resolved to a token")
	}
}

func TestRegistry_Tokens(t *testing.T) {
	tokens := DefaultRegistry().Tokens(ChainIDEthereum)

	if len(tokens) != 5 {
		t.Fatalf("got %d tokens, want 5 (native ETH excluded)", len(tokens))
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i-1].Symbol() > tokens[i].Symbol() {
			t.Errorf("tokens not ordered: %s before %s", tokens[i-1], tokens[i])
		}
	}
}

func TestAsset_Conversions(t *testing.T) {
	tests := []struct {
		name  string
		asset *Asset
		units string
		raw   string
	}{
		{"weth", WETH, "1.5", "1500000000000000000"},
		{"usdc", USDC, "2024.123456", "2024123456"},
		{"wbtc", WBTC, "0.00000001", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := decimal.RequireFromString(tt.units)
			if got := tt.asset.ToRaw(units).String(); got != tt.raw {
				t.Errorf("ToRaw = %s, want %s", got, tt.raw)
			}
			raw, _ := new(big.Int).SetString(tt.raw, 10)
			if got := tt.asset.ToDecimal(raw); !got.Equal(units) {
				t.Errorf("ToDecimal = %s, want %s", got, units)
			}
		})
	}

	if got := USDC.ToRaw(decimal.RequireFromString("1.0000009")); got.Int64() != 1_000_000 {
		t.Errorf("ToRaw should truncate extra precision, got %s", got)
	}
	if !WETH.ToDecimal(nil).IsZero() {
		t.Error("ToDecimal(nil) should be zero")
	}
}
