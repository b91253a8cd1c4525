package app

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/business/profit/domain"
)

// Tracker keeps the rolling statistics that feed evaluation: gas history and
// per-strategy execution outcomes.
type Tracker struct {
	window  int
	history *domain.GasHistory

	mu    sync.RWMutex
	stats map[opportunity.Kind]*domain.ExecutionStats
}

// NewTracker creates a tracker whose strategies use the newest window samples.
func NewTracker(window int) *Tracker {
	return &Tracker{
		window:  window,
		history: domain.NewGasHistory(domain.GasHistoryCapacity),
		stats:   make(map[opportunity.Kind]*domain.ExecutionStats),
	}
}

// ObserveGas records a gas price sample in wei.
func (t *Tracker) ObserveGas(wei *big.Int) {
	if wei == nil {
		return
	}
	gwei, _ := decimal.NewFromBigInt(wei, -9).Float64()
	t.history.Add(gwei)
}

// Strategy returns the gas strategy for current (wei) using the recent window.
func (t *Tracker) Strategy(current *big.Int) GasStrategy {
	cur := new(big.Int)
	if current != nil {
		cur.Set(current)
	}
	return GasStrategy{
		Current: cur,
		Window:  t.history.Recent(t.window),
	}
}

// VolatilityPercent returns the coefficient of variation of the recent window.
func (t *Tracker) VolatilityPercent() float64 {
	return domain.VolatilityPercent(t.history.Recent(t.window))
}

// RecordOutcome adds a terminal submission outcome for kind.
func (t *Tracker) RecordOutcome(kind opportunity.Kind, included bool, realizedNet, roiPercent decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[kind]
	if !ok {
		s = &domain.ExecutionStats{}
		t.stats[kind] = s
	}
	s.Record(included, realizedNet, roiPercent)
}

// Stats returns a copy of the execution statistics for kind.
func (t *Tracker) Stats(kind opportunity.Kind) domain.ExecutionStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[kind]; ok {
		return *s
	}
	return domain.ExecutionStats{}
}
