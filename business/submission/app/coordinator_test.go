package app

import (
	"context"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRelay struct {
	name string

	mu    sync.Mutex
	errs  []error // returned in order, then success
	fail  error   // returned on every call when set
	calls int
	sent  []*bundle.Bundle
}

func (r *fakeRelay) Name() string { return r.name }

func (r *fakeRelay) SendBundle(_ context.Context, b *bundle.Bundle) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sent = append(r.sent, b)
	if r.fail != nil {
		return "", r.fail
	}
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return "", err
	}
	return "0xb0", nil
}

func (r *fakeRelay) Stats() domain.RelayStats { return domain.RelayStats{Relay: r.name} }

func (r *fakeRelay) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeChain struct {
	mu    sync.Mutex
	mined map[common.Hash]uint64
}

func (c *fakeChain) Inclusion(_ context.Context, h common.Hash) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.mined[h]
	return block, ok, nil
}

func (c *fakeChain) Mine(h string, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mined == nil {
		c.mined = map[common.Hash]uint64{}
	}
	c.mined[common.HexToHash(h)] = block
}

type fakeRepricer struct{ now func() time.Time }

func (r fakeRepricer) Reprice(_ context.Context, b *bundle.Bundle, factor decimal.Decimal) (*bundle.Bundle, error) {
	nb := *b
	nb.GasFeeCap = decimal.NewFromBigInt(b.GasFeeCap, 0).Mul(factor).BigInt()
	nb.GasTipCap = decimal.NewFromBigInt(b.GasTipCap, 0).Mul(factor).BigInt()
	nb.Txs = []bundle.BundleTx{{Role: bundle.RoleSwap, Tx: types.NewTx(&types.DynamicFeeTx{
		Nonce: 7, Gas: 100_000, GasFeeCap: nb.GasFeeCap,
	})}}
	nb.MinTimestamp = r.now()
	nb.MaxTimestamp = r.now().Add(2 * time.Second)
	nb.Repriced++
	return &nb, nil
}

// confirmer is profitable while the gas price stays at or below limit.
type confirmer struct{ limit *big.Int }

func (c confirmer) AtGasPrice(a profit.ProfitAnalysis, price *big.Int) profit.ProfitAnalysis {
	a.RecommendedGasPrice = price
	a.Profitable = price.Cmp(c.limit) <= 0
	if !a.Profitable {
		a.Reason = profit.ReasonBelowMinProfit
	}
	return a
}

type memArchive struct {
	mu    sync.Mutex
	saved []domain.Record
}

func (a *memArchive) Save(_ context.Context, r domain.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, r)
	return nil
}

func (a *memArchive) Get(_ context.Context, id uuid.UUID) (domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.saved {
		if r.BundleID == id {
			return r, nil
		}
	}
	return domain.Record{}, apperror.New(apperror.CodeNotFound)
}

func (a *memArchive) Recent(context.Context, int) ([]domain.Record, error) { return a.saved, nil }
func (a *memArchive) Close() error                                        { return nil }

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

type harness struct {
	coord   *Coordinator
	clock   *clock
	chain   *fakeChain
	archive *memArchive
}

func newHarness(t *testing.T, relays ...Relay) *harness {
	t.Helper()
	h := &harness{
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		chain:   &fakeChain{},
		archive: &memArchive{},
	}
	cfg := Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		FeeBump:        decimal.RequireFromString("1.125"),
		PollInterval:   2 * time.Millisecond,
		Retention:      time.Hour,
		Now:            h.clock.Now,
	}
	c, err := NewCoordinator(cfg, relays, h.chain, fakeRepricer{now: h.clock.Now},
		confirmer{limit: gwei(40)}, h.archive, logger.New(io.Discard, logger.LevelInfo, "test", nil))
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	h.coord = c
	return h
}

func (h *harness) bundle() *bundle.Bundle {
	now := h.clock.Now()
	return &bundle.Bundle{
		ID:            uuid.New(),
		OpportunityID: uuid.New(),
		Route:         "WETH>USDC>WETH",
		Txs: []bundle.BundleTx{
			{Role: bundle.RoleSwap, Tx: types.NewTx(&types.DynamicFeeTx{Nonce: 1, Gas: 100_000})},
			{Role: bundle.RoleSwap, Tx: types.NewTx(&types.DynamicFeeTx{Nonce: 2, Gas: 100_000})},
		},
		TargetBlock:    100,
		MinTimestamp:   now,
		MaxTimestamp:   now.Add(2 * time.Second),
		GasFeeCap:      gwei(32),
		GasTipCap:      gwei(2),
		ExpectedProfit: decimal.RequireFromString("0.05"),
	}
}

var analysis = profit.ProfitAnalysis{Profitable: true}

func TestCoordinator_Submit(t *testing.T) {
	tests := []struct {
		name     string
		relays   []*fakeRelay
		state    domain.State
		reason   apperror.Code
		attempts int
	}{
		{
			name:     "accepted first try",
			relays:   []*fakeRelay{{name: "a"}},
			state:    domain.StatePending,
			attempts: 1,
		},
		{
			name: "transient failures retried",
			relays: []*fakeRelay{{name: "a", errs: []error{
				apperror.New(apperror.CodeRelayTimeout),
				apperror.New(apperror.CodeRelayMalformed),
			}}},
			state:    domain.StatePending,
			attempts: 3,
		},
		{
			name:     "retries exhausted",
			relays:   []*fakeRelay{{name: "a", fail: apperror.New(apperror.CodeRelayTimeout)}},
			state:    domain.StateRejected,
			reason:   apperror.CodeRelayUnavailable,
			attempts: 3,
		},
		{
			name:     "relay rejection is not retried",
			relays:   []*fakeRelay{{name: "a", fail: apperror.New(apperror.CodeRelayRejected)}},
			state:    domain.StateRejected,
			reason:   apperror.CodeRelayRejected,
			attempts: 1,
		},
		{
			name: "one relay accepting is enough",
			relays: []*fakeRelay{
				{name: "a", fail: apperror.New(apperror.CodeRelayRejected)},
				{name: "b"},
			},
			state:    domain.StatePending,
			attempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relays := make([]Relay, len(tt.relays))
			for i, r := range tt.relays {
				relays[i] = r
			}
			h := newHarness(t, relays...)

			rec, err := h.coord.Submit(context.Background(), h.bundle())
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if rec.State != tt.state || rec.Reason != tt.reason || rec.Attempts != tt.attempts {
				t.Errorf("record = %s/%s after %d attempts, want %s/%s after %d",
					rec.State, rec.Reason, rec.Attempts, tt.state, tt.reason, tt.attempts)
			}
			if tt.state.Terminal() && len(h.archive.saved) != 1 {
				t.Errorf("archived %d records, want 1", len(h.archive.saved))
			}
			got, err := h.coord.Record(context.Background(), rec.BundleID)
			if err != nil || got.State != tt.state {
				t.Errorf("stored record = %s, err %v", got.State, err)
			}
		})
	}
}

func TestCoordinator_SubmitExpiredBundle(t *testing.T) {
	relay := &fakeRelay{name: "a"}
	h := newHarness(t, relay)
	b := h.bundle()
	h.clock.Advance(3 * time.Second)

	rec, _ := h.coord.Submit(context.Background(), b)
	if rec.State != domain.StateExpired || relay.Calls() != 0 {
		t.Errorf("state = %s after %d relay calls", rec.State, relay.Calls())
	}
}

func TestCoordinator_Poll(t *testing.T) {
	h := newHarness(t, &fakeRelay{name: "a"})
	ctx := context.Background()

	b := h.bundle()
	rec, _ := h.coord.Submit(ctx, b)

	rec, err := h.coord.Poll(ctx, rec)
	if err != nil || rec.State != domain.StatePending {
		t.Fatalf("state = %s, err %v", rec.State, err)
	}

	h.chain.Mine(rec.LastTxHash(), 100)
	rec, _ = h.coord.Poll(ctx, rec)
	if rec.State != domain.StateIncluded || rec.IncludedBlock != 100 {
		t.Errorf("record = %s at %d", rec.State, rec.IncludedBlock)
	}

	again, _ := h.coord.Poll(ctx, rec)
	if again.UpdatedAt != rec.UpdatedAt {
		t.Error("terminal record changed on poll")
	}
}

func TestCoordinator_PollExpires(t *testing.T) {
	h := newHarness(t, &fakeRelay{name: "a"})
	ctx := context.Background()

	rec, _ := h.coord.Submit(ctx, h.bundle())
	h.clock.Advance(2 * time.Second)
	if rec, _ = h.coord.Poll(ctx, rec); rec.State != domain.StatePending {
		t.Fatalf("state at window end = %s, want pending", rec.State)
	}

	h.clock.Advance(time.Millisecond)
	rec, _ = h.coord.Poll(ctx, rec)
	if rec.State != domain.StateExpired || rec.Reason != apperror.CodeBundleExpired {
		t.Errorf("record = %s/%s", rec.State, rec.Reason)
	}
}

// inspectingRelay also answers bundle stats lookups.
type inspectingRelay struct {
	fakeRelay
	stats domain.BundleStats
	asked []uint64
}

func (r *inspectingRelay) BundleStats(_ context.Context, hash string, block uint64) (domain.BundleStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hash != "0xb0" {
		return domain.BundleStats{}, apperror.New(apperror.CodeNotFound)
	}
	r.asked = append(r.asked, block)
	return r.stats, nil
}

func TestCoordinator_PollExpiresWithRelayView(t *testing.T) {
	inspector := &inspectingRelay{
		fakeRelay: fakeRelay{name: "a"},
		stats:     domain.BundleStats{IsSimulated: true, SentToBuilders: 3},
	}
	plain := &fakeRelay{name: "b"}
	h := newHarness(t, inspector, plain)
	ctx := context.Background()

	rec, _ := h.coord.Submit(ctx, h.bundle())
	h.clock.Advance(3 * time.Second)
	rec, _ = h.coord.Poll(ctx, rec)
	if rec.State != domain.StateExpired {
		t.Fatalf("state = %s, want expired", rec.State)
	}

	var seen int
	for _, rr := range rec.Relays {
		switch rr.Relay {
		case "a":
			if rr.Stats == nil || !rr.Stats.IsSimulated || rr.Stats.SentToBuilders != 3 {
				t.Errorf("relay a stats = %+v", rr.Stats)
			}
			seen++
		case "b":
			if rr.Stats != nil {
				t.Errorf("relay b has stats %+v without a lookup", rr.Stats)
			}
			seen++
		}
	}
	if seen != 2 {
		t.Errorf("receipts = %+v", rec.Relays)
	}
	if len(inspector.asked) != 1 || inspector.asked[0] != rec.TargetBlock {
		t.Errorf("lookups = %v, want one for block %d", inspector.asked, rec.TargetBlock)
	}

	saved, err := h.archive.Get(ctx, rec.BundleID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	for _, rr := range saved.Relays {
		if rr.Relay == "a" && rr.Stats == nil {
			t.Error("archived record lost the relay view")
		}
	}
}

func TestCoordinator_Resubmit(t *testing.T) {
	relay := &fakeRelay{name: "a"}
	h := newHarness(t, relay)
	ctx := context.Background()

	b := h.bundle()
	rec, _ := h.coord.Submit(ctx, b)

	if _, _, err := h.coord.Resubmit(ctx, rec, b, analysis, 100); !apperror.HasCode(err, apperror.CodeResubmitDenied) {
		t.Fatalf("resubmit before target passed: err = %v", err)
	}

	rec, nb, err := h.coord.Resubmit(ctx, rec, b, analysis, 101)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	// 32 gwei * 1.125
	if rec.LastGasPrice.Cmp(gwei(36)) != 0 || nb.TargetBlock != 102 || rec.Resubmissions != 1 {
		t.Errorf("resubmitted record: price %s target %d resubmissions %d",
			rec.LastGasPrice, rec.TargetBlock, rec.Resubmissions)
	}
	if rec.LastTxHash() != nb.Txs[0].Tx.Hash().Hex() {
		t.Error("record does not track the repriced transactions")
	}
	if relay.Calls() != 2 {
		t.Errorf("relay calls = %d, want 2", relay.Calls())
	}

	if _, _, err := h.coord.Resubmit(ctx, rec, nb, analysis, 103); !apperror.HasCode(err, apperror.CodeResubmitDenied) {
		t.Errorf("second resubmit: err = %v, want RESUBMIT_DENIED", err)
	}
}

func TestCoordinator_ResubmitDenied(t *testing.T) {
	ctx := context.Background()

	t.Run("unprofitable at bumped fee", func(t *testing.T) {
		relay := &fakeRelay{name: "a"}
		h := newHarness(t, relay)
		b := h.bundle()
		b.GasFeeCap = gwei(36) // 40.5 gwei after the bump
		rec, _ := h.coord.Submit(ctx, b)

		got, _, err := h.coord.Resubmit(ctx, rec, b, analysis, 101)
		if !apperror.HasCode(err, apperror.CodeResubmitDenied) {
			t.Fatalf("err = %v", err)
		}
		if got.Resubmissions != 0 || relay.Calls() != 1 {
			t.Errorf("resubmissions %d relay calls %d", got.Resubmissions, relay.Calls())
		}
	})

	t.Run("expired record", func(t *testing.T) {
		h := newHarness(t, &fakeRelay{name: "a"})
		b := h.bundle()
		rec, _ := h.coord.Submit(ctx, b)
		h.clock.Advance(time.Minute)
		rec, _ = h.coord.Poll(ctx, rec)

		if _, _, err := h.coord.Resubmit(ctx, rec, b, analysis, 101); !apperror.HasCode(err, apperror.CodeResubmitDenied) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestCoordinator_TrackExpiresWithoutResubmission(t *testing.T) {
	relay := &fakeRelay{name: "a"}
	h := newHarness(t, relay)
	h.coord.cfg.Now = time.Now

	b := h.bundle()
	b.MaxTimestamp = time.Now().Add(20 * time.Millisecond)
	rec, _ := h.coord.Submit(context.Background(), b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := h.coord.Track(ctx, rec, b, analysis, func() uint64 { return 100 })
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if rec.State != domain.StateExpired || rec.Resubmissions != 0 || relay.Calls() != 1 {
		t.Errorf("record = %s, resubmissions %d, relay calls %d", rec.State, rec.Resubmissions, relay.Calls())
	}
}

func TestCoordinator_TrackIncluded(t *testing.T) {
	h := newHarness(t, &fakeRelay{name: "a"})
	b := h.bundle()
	rec, _ := h.coord.Submit(context.Background(), b)
	h.chain.Mine(rec.LastTxHash(), 100)

	rec, err := h.coord.Track(context.Background(), rec, b, analysis, func() uint64 { return 100 })
	if err != nil || rec.State != domain.StateIncluded {
		t.Errorf("state = %s, err %v", rec.State, err)
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	for attempt, want := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: time.Second,
	} {
		if got := cfg.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
