package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

func testBundle(now time.Time) *bundle.Bundle {
	return &bundle.Bundle{
		ID:            uuid.New(),
		OpportunityID: uuid.New(),
		Txs: []bundle.BundleTx{
			{Role: bundle.RoleSwap, Tx: types.NewTx(&types.DynamicFeeTx{Nonce: 1, Gas: 100_000})},
			{Role: bundle.RoleSwap, Tx: types.NewTx(&types.DynamicFeeTx{Nonce: 2, Gas: 120_000})},
		},
		TargetBlock:  10,
		MinTimestamp: now,
		MaxTimestamp: now.Add(2 * time.Second),
		GasFeeCap:    big.NewInt(30),
		GasTipCap:    big.NewInt(2),
	}
}

func TestNewRecord(t *testing.T) {
	now := time.Now()
	b := testBundle(now)
	r := NewRecord(b, now)

	if r.State != StatePending || r.BundleID != b.ID || r.TargetBlock != 10 {
		t.Errorf("record = %+v", r)
	}
	if r.GasLimit != 220_000 || r.LastTxHash() != b.Txs[1].Tx.Hash().Hex() {
		t.Errorf("gas %d last tx %s", r.GasLimit, r.LastTxHash())
	}
	if !r.ExpiresAt.Equal(b.MaxTimestamp) {
		t.Errorf("expires = %v", r.ExpiresAt)
	}

	b.GasFeeCap.SetInt64(99)
	if r.LastGasPrice.Int64() != 30 {
		t.Error("record aliases the bundle fee cap")
	}
}

func TestRecord_Transition(t *testing.T) {
	tests := []struct {
		name  string
		steps []State
		ok    []bool
	}{
		{"pending to included", []State{StateIncluded}, []bool{true}},
		{"pending to expired", []State{StateExpired}, []bool{true}},
		{"terminal is final", []State{StateRejected, StateIncluded}, []bool{true, false}},
		{"no return to pending", []State{StatePending}, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			r := NewRecord(testBundle(now), now)
			for i, to := range tt.steps {
				err := r.Transition(to, "", now)
				if tt.ok[i] && err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
				if !tt.ok[i] && !apperror.HasCode(err, apperror.CodeInvalidState) {
					t.Fatalf("step %d: err = %v, want INVALID_STATE", i, err)
				}
			}
		})
	}
}

func TestRelayStats_Observe(t *testing.T) {
	var s RelayStats
	s.Observe(100*time.Millisecond, true, false, nil)
	s.Observe(200*time.Millisecond, false, true, nil)
	s.Observe(100*time.Millisecond, false, false, apperror.New(apperror.CodeRelayTimeout))

	if s.Submitted != 3 || s.Accepted != 1 || s.Rejected != 1 || s.Failed != 1 {
		t.Errorf("counts = %+v", s)
	}
	// 100 -> 0.2*200+0.8*100 = 120 -> 0.2*100+0.8*120 = 116
	if s.Latency != 116*time.Millisecond {
		t.Errorf("latency = %v, want 116ms", s.Latency)
	}
	if s.LastError == "" {
		t.Error("last error not kept")
	}
	if got := s.AcceptRate(); got < 0.33 || got > 0.34 {
		t.Errorf("accept rate = %v", got)
	}
}
