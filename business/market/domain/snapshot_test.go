package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/internal/asset"
)

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	baseFee := big.NewInt(30_000_000_000)
	cl := clPool()
	snap := NewSnapshot(SnapshotInput{
		Block:      19_000_000,
		CapturedAt: time.Unix(1_700_000_000, 0),
		BaseFee:    baseFee,
		BaseToken:  asset.AddrWETHEthereum,
		Tokens:     []*asset.Asset{asset.WETH, asset.USDC},
		Pools:      []Pool{cpPool("10", "20000"), cl},
		Pending:    []PendingTx{{Hash: common.HexToHash("0x01")}},
	})

	// Mutating inputs after construction must not leak in.
	baseFee.SetInt64(1)
	cl.Concentrated.Ranges[0].Liquidity = -1

	if snap.BaseFee().Int64() != 30_000_000_000 {
		t.Errorf("BaseFee changed to %s", snap.BaseFee())
	}

	got, ok := snap.Pool(cl.Key)
	if !ok {
		t.Fatal("concentrated pool missing")
	}
	if got.Concentrated.Ranges[0].Liquidity != 1000 {
		t.Error("snapshot shares tick ranges with caller")
	}

	// Mutating a returned copy must not leak back.
	got.Concentrated.Ranges[0].Liquidity = 0
	got.Reserve0 = decimal.Zero
	again, _ := snap.Pool(cl.Key)
	if again.Concentrated.Ranges[0].Liquidity != 1000 {
		t.Error("Pool() returned shared state")
	}

	pending := snap.Pending()
	pending[0].Hash = common.Hash{}
	if snap.Pending()[0].Hash == (common.Hash{}) {
		t.Error("Pending() returned shared slice")
	}

	if snap.Symbol(asset.AddrUSDCEthereum) != "USDC" {
		t.Errorf("Symbol = %q", snap.Symbol(asset.AddrUSDCEthereum))
	}
}

func TestSnapshot_PoolsDeterministicOrder(t *testing.T) {
	a := cpPool("1", "1")
	a.Key = PoolKey{Venue: VenueSushiswap, Address: common.HexToAddress("0x05")}
	b := cpPool("1", "1")
	b.Key = PoolKey{Venue: VenueUniswapV2, Address: common.HexToAddress("0x03")}
	c := cpPool("1", "1")
	c.Key = PoolKey{Venue: VenueSushiswap, Address: common.HexToAddress("0x01")}

	snap := NewSnapshot(SnapshotInput{Pools: []Pool{a, b, c}})
	pools := snap.Pools()

	want := []PoolKey{c.Key, a.Key, b.Key}
	for i, k := range want {
		if pools[i].Key != k {
			t.Errorf("pools[%d] = %s, want %s", i, pools[i].Key, k)
		}
	}
}
