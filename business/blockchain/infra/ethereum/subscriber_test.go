package ethereum

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

// fakeHeadNode serves newHeads from a script and HeaderByNumber from a counter.
type fakeHeadNode struct {
	heads  []*types.Header // pushed on subscribe
	latest atomic.Int64    // returned by HeaderByNumber
	closed atomic.Bool
}

func (n *fakeHeadNode) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (geth.Subscription, error) {
	sub := &fakeSub{errc: make(chan error, 1)}
	go func() {
		for _, h := range n.heads {
			select {
			case ch <- h:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func (n *fakeHeadNode) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return header(n.latest.Load(), common.Hash{}), nil
}

func (n *fakeHeadNode) Close() { n.closed.Store(true) }

func header(number int64, parent common.Hash) *types.Header {
	return &types.Header{Number: big.NewInt(number), ParentHash: parent, Time: 1_700_000_000}
}

func chain(from, to int64) []*types.Header {
	var out []*types.Header
	parent := common.Hash{}
	for n := from; n <= to; n++ {
		h := header(n, parent)
		parent = h.Hash()
		out = append(out, h)
	}
	return out
}

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelInfo, "test", nil)
}

func testConfig() SubscriberConfig {
	cfg := DefaultSubscriberConfig("ws://node", "http://node")
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StallTimeout = 0
	cfg.BufferSize = 16
	return cfg
}

func recv(t *testing.T, blocks <-chan *domain.Block) *domain.Block {
	t.Helper()
	select {
	case b := <-blocks:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no block received")
		return nil
	}
}

func TestSubscriberConfig_Backoff(t *testing.T) {
	cfg := SubscriberConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSubscriber_FullBufferKeepsNewestBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 2
	s, err := newSubscriber(cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("newSubscriber: %v", err)
	}

	for _, h := range chain(1, 4) {
		s.handleHeader(context.Background(), h, sourceWS)
	}

	var got []uint64
	for range 2 {
		got = append(got, (<-s.blocks).Number)
	}
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("buffered blocks = %v, want [3 4]", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Emitting after close is a no-op.
	s.handleHeader(context.Background(), header(5, common.Hash{}), sourceWS)
}

func TestSubscriber_HandleHeaderFiltersAndFlags(t *testing.T) {
	s, _ := newSubscriber(testConfig(), testLogger(), nil)
	ctx := context.Background()
	heads := chain(10, 11)

	s.handleHeader(ctx, heads[0], sourceWS)
	s.handleHeader(ctx, heads[0], sourceHTTP) // same head from the poller
	s.handleHeader(ctx, heads[1], sourceWS)
	s.handleHeader(ctx, header(11, common.HexToHash("0xbeef")), sourceWS) // sibling of 11
	s.handleHeader(ctx, header(14, common.Hash{}), sourceHTTP)

	var got []*domain.Block
	for len(s.blocks) > 0 {
		got = append(got, <-s.blocks)
	}
	if len(got) != 4 {
		t.Fatalf("delivered %d blocks, want 4", len(got))
	}
	if got[0].Number != 10 || got[1].Number != 11 || got[1].Reorg {
		t.Errorf("first heads = %+v %+v", got[0], got[1])
	}
	if !got[2].Reorg || got[2].Number != 11 {
		t.Errorf("sibling not flagged as reorg: %+v", got[2])
	}
	if got[3].Missed != 2 {
		t.Errorf("missed = %d, want 2", got[3].Missed)
	}
	if st := s.Status(); st.Reorgs != 1 || st.LastBlock != 14 || st.LastHeadAt.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestSubscriber_FallsBackToHTTP(t *testing.T) {
	node := &fakeHeadNode{}
	node.latest.Store(7)

	dial := func(_ context.Context, url string) (headClient, error) {
		if url == "ws://node" {
			return nil, errors.New("connection refused")
		}
		return node, nil
	}
	s, _ := newSubscriber(testConfig(), testLogger(), dial)

	blocks, err := s.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if b := recv(t, blocks); b.Number != 7 {
		t.Errorf("block = %d, want 7", b.Number)
	}
	node.latest.Store(8)
	if b := recv(t, blocks); b.Number != 8 {
		t.Errorf("block = %d, want 8", b.Number)
	}
	if st := s.Status(); !st.UsingHTTP || st.State != domain.StateConnected {
		t.Errorf("status = %+v", st)
	}

	_ = s.Close()
	if !node.closed.Load() {
		t.Error("http client not closed")
	}
}

func TestSubscriber_FailsWithoutEndpoints(t *testing.T) {
	dial := func(context.Context, string) (headClient, error) { return nil, errors.New("down") }
	s, _ := newSubscriber(testConfig(), testLogger(), dial)

	if _, err := s.Subscribe(context.Background()); err == nil {
		t.Fatal("expected error when no endpoint is reachable")
	}
	if s.State() != domain.StateDisconnected {
		t.Errorf("state = %s", s.State())
	}
}

func TestSubscriber_ReconnectsAfterStall(t *testing.T) {
	var dials atomic.Int32
	heads := chain(1, 2)
	dial := func(context.Context, string) (headClient, error) {
		n := dials.Add(1)
		// Each connection delivers one head and then goes quiet.
		return &fakeHeadNode{heads: heads[min(int(n), 2)-1 : min(int(n), 2)]}, nil
	}

	cfg := testConfig()
	cfg.StallTimeout = 20 * time.Millisecond
	s, _ := newSubscriber(cfg, testLogger(), dial)
	blocks, err := s.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	if b := recv(t, blocks); b.Number != 1 {
		t.Fatalf("first block = %d", b.Number)
	}
	if b := recv(t, blocks); b.Number != 2 || b.Reorg {
		t.Fatalf("second block = %+v", b)
	}
	if dials.Load() < 2 || s.Status().Reconnects < 1 {
		t.Errorf("dials = %d, status = %+v", dials.Load(), s.Status())
	}
}
