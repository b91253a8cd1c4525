package app

import (
	"math/big"
	"testing"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

func TestTracker_Strategy(t *testing.T) {
	tr := NewTracker(3)
	for _, g := range []int64{10, 20, 30, 40} {
		tr.ObserveGas(gwei(g))
	}

	gs := tr.Strategy(gwei(41))
	if len(gs.Window) != 3 || gs.Window[0] != 20 || gs.Window[2] != 40 {
		t.Errorf("window = %v, want [20 30 40]", gs.Window)
	}

	cur := gwei(41)
	gs = tr.Strategy(cur)
	gs.Current.Add(gs.Current, big.NewInt(1))
	if cur.Cmp(gwei(41)) != 0 {
		t.Error("strategy aliases the caller's gas price")
	}

	if v := NewTracker(3).Strategy(nil); v.Current.Sign() != 0 || len(v.Window) != 0 {
		t.Errorf("empty strategy = %+v", v)
	}
}

func TestTracker_RecordOutcome(t *testing.T) {
	tr := NewTracker(5)
	tr.RecordOutcome(opportunity.KindDirect, true, d("0.02"), d("2"))
	tr.RecordOutcome(opportunity.KindDirect, true, d("0.01"), d("1"))
	tr.RecordOutcome(opportunity.KindDirect, false, d("-0.003"), d("0"))

	s := tr.Stats(opportunity.KindDirect)
	if s.Attempts != 3 || s.Inclusions != 2 {
		t.Errorf("stats = %+v", s)
	}
	if rate := s.SuccessRate(); rate < 0.666 || rate > 0.667 {
		t.Errorf("success rate = %v", rate)
	}
	if !s.AverageROI().Equal(d("1.5")) {
		t.Errorf("average roi = %s", s.AverageROI())
	}
	if !s.RealizedNet.Equal(d("0.03")) {
		t.Errorf("realized = %s", s.RealizedNet)
	}
	if got := tr.Stats(opportunity.KindMultiHop); got.Attempts != 0 {
		t.Errorf("untouched kind = %+v", got)
	}
}
