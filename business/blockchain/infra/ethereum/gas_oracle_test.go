package ethereum

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync/atomic"
	"testing"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

type fakeNode struct {
	price, tip, baseFee *big.Int
	err                 error
	calls               atomic.Int32

	nonce    uint64
	balance  *big.Int
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.calls.Add(1)
	return f.price, f.err
}

func (f *fakeNode) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, f.err }

func (f *fakeNode) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, f.err
}

func (f *fakeNode) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.err
}

func (f *fakeNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, f.err
}

func (f *fakeNode) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	rc, ok := f.receipts[h]
	if !ok {
		return nil, goethereum.NotFound
	}
	return rc, nil
}

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func newOracle(t *testing.T, node *fakeNode) *GasOracle {
	t.Helper()
	g, err := NewGasOracle(DefaultGasOracleConfig(), node, logger.New(io.Discard, logger.LevelInfo, "test", nil))
	if err != nil {
		t.Fatalf("NewGasOracle: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGasOracle_FeeQuote(t *testing.T) {
	node := &fakeNode{price: gwei(30), tip: gwei(2), baseFee: gwei(28)}
	g := newOracle(t, node)

	q, err := g.FeeQuote(context.Background())
	if err != nil {
		t.Fatalf("FeeQuote: %v", err)
	}
	if q.BaseFee.Cmp(gwei(28)) != 0 || q.TipCap.Cmp(gwei(2)) != 0 {
		t.Errorf("quote = base %s tip %s", q.BaseFee, q.TipCap)
	}
	if got := q.FeeCap(); got.Cmp(gwei(58)) != 0 {
		t.Errorf("fee cap = %s, want 58 gwei", got)
	}
	if got := q.GasPrice.Gwei(); got != 30 {
		t.Errorf("gas price = %v gwei, want 30", got)
	}
}

func TestGasOracle_CachesWithinTTL(t *testing.T) {
	node := &fakeNode{price: gwei(30), tip: gwei(2), baseFee: gwei(28)}
	g := newOracle(t, node)

	for range 3 {
		if _, err := g.GetGasPrice(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := node.calls.Load(); n != 1 {
		t.Errorf("node calls = %d, want 1", n)
	}
}

func TestGasOracle_ClampsAndFloors(t *testing.T) {
	node := &fakeNode{price: gwei(900), tip: big.NewInt(1), baseFee: gwei(800)}
	g := newOracle(t, node)

	q, err := g.FeeQuote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if q.GasPrice.Wei.Cmp(gwei(500)) != 0 {
		t.Errorf("price = %s, want clamped to 500 gwei", q.GasPrice.Wei)
	}
	if q.TipCap.Cmp(gwei(1)) != 0 {
		t.Errorf("tip = %s, want floored to 1 gwei", q.TipCap)
	}
}

func TestGasOracle_Error(t *testing.T) {
	g := newOracle(t, &fakeNode{err: errors.New("boom")})

	_, err := g.GetGasPrice(context.Background())
	if !apperror.HasCode(err, apperror.CodeEthereumRPCError) {
		t.Fatalf("err = %v, want ETHEREUM_RPC_ERROR", err)
	}
}

func TestAccountReader(t *testing.T) {
	node := &fakeNode{nonce: 7, balance: gwei(3)}
	r := NewAccountReader(node)
	acct := common.HexToAddress("0xe1")

	nonce, err := r.PendingNonce(context.Background(), acct)
	if err != nil || nonce != 7 {
		t.Errorf("nonce = %d, err = %v", nonce, err)
	}
	bal, err := r.Balance(context.Background(), acct)
	if err != nil || bal.Cmp(gwei(3)) != 0 {
		t.Errorf("balance = %s, err = %v", bal, err)
	}

	node.err = errors.New("down")
	if _, err := r.PendingNonce(context.Background(), acct); !apperror.HasCode(err, apperror.CodeEthereumRPCError) {
		t.Errorf("err = %v", err)
	}
}

func TestAccountReader_Inclusion(t *testing.T) {
	mined := common.HexToHash("0x01")
	node := &fakeNode{receipts: map[common.Hash]*types.Receipt{
		mined: {BlockNumber: big.NewInt(1234)},
	}}
	r := NewAccountReader(node)

	block, ok, err := r.Inclusion(context.Background(), mined)
	if err != nil || !ok || block != 1234 {
		t.Errorf("mined tx: block %d ok %v err %v", block, ok, err)
	}

	_, ok, err = r.Inclusion(context.Background(), common.HexToHash("0x02"))
	if err != nil || ok {
		t.Errorf("unknown tx: ok %v err %v, want not mined without error", ok, err)
	}

	node.err = errors.New("down")
	if _, _, err := r.Inclusion(context.Background(), mined); !apperror.HasCode(err, apperror.CodeEthereumRPCError) {
		t.Errorf("err = %v", err)
	}
}
