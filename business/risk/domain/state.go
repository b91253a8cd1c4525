// Package domain contains the risk state model.
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// TripReason names the condition that halted the pipeline.
type TripReason string

const (
	TripBalanceFloor TripReason = "balance_below_floor"
	TripDailyLoss    TripReason = "daily_loss_exceeded"
	TripPositionSize TripReason = "position_size_exceeded"
	TripGasCost      TripReason = "gas_cost_exceeded"
	TripManual       TripReason = "manual_pause"
)

// State is the process-wide risk state. Owned by the governor; callers only
// ever see copies.
type State struct {
	Balance         decimal.Decimal
	DayStartBalance decimal.Decimal
	DailyPnL        decimal.Decimal
	Day             string // UTC date, YYYY-MM-DD

	Strategies map[opportunity.Kind]bool

	Tripped    bool
	TripReason TripReason
	TripDetail string
	TrippedAt  time.Time
}

// NewState starts a day at balance with every listed strategy flag set.
func NewState(balance decimal.Decimal, strategies map[opportunity.Kind]bool, now time.Time) State {
	flags := make(map[opportunity.Kind]bool, len(strategies))
	for k, v := range strategies {
		flags[k] = v
	}
	return State{
		Balance:         balance,
		DayStartBalance: balance,
		DailyPnL:        decimal.Zero,
		Day:             DayKey(now),
		Strategies:      flags,
	}
}

// DayKey returns the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Strategies = make(map[opportunity.Kind]bool, len(s.Strategies))
	for k, v := range s.Strategies {
		out.Strategies[k] = v
	}
	return out
}

// Rollover resets the daily counter when now falls on a later UTC day.
// It reports whether a reset happened.
func (s *State) Rollover(now time.Time) bool {
	day := DayKey(now)
	if day == s.Day {
		return false
	}
	s.Day = day
	s.DayStartBalance = s.Balance
	s.DailyPnL = decimal.Zero
	return true
}

// DailyLossPercent is today's loss as a percentage of the day's opening
// balance. Zero when the day is flat or up.
func (s State) DailyLossPercent() decimal.Decimal {
	if !s.DailyPnL.IsNegative() || !s.DayStartBalance.IsPositive() {
		return decimal.Zero
	}
	return s.DailyPnL.Neg().Div(s.DayStartBalance).Mul(decimal.NewFromInt(100))
}

// StrategyEnabled reports the flag for kind. Unlisted kinds are enabled.
func (s State) StrategyEnabled(kind opportunity.Kind) bool {
	enabled, ok := s.Strategies[kind]
	return !ok || enabled
}

// Trip latches the breaker. An already tripped breaker keeps its first reason.
func (s *State) Trip(reason TripReason, detail string, now time.Time) bool {
	if s.Tripped {
		return false
	}
	s.Tripped = true
	s.TripReason = reason
	s.TripDetail = detail
	s.TrippedAt = now
	return true
}

// Clear releases the breaker.
func (s *State) Clear() {
	s.Tripped = false
	s.TripReason = ""
	s.TripDetail = ""
	s.TrippedAt = time.Time{}
}

// BreakerEvent reports a breaker trip or reset.
type BreakerEvent struct {
	Tripped bool
	Reason  TripReason
	Detail  string
	By      string // operator for manual actions
	At      time.Time
	State   State
}
