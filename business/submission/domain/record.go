// Package domain contains the submission record and its state machine.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// State is a submission lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateIncluded State = "included"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s != StatePending }

// RelayReceipt is a relay's acknowledgement of a bundle.
type RelayReceipt struct {
	Relay      string        `json:"relay"`
	Accepted   bool          `json:"accepted"`
	BundleHash string        `json:"bundle_hash,omitempty"`
	Attempts   int           `json:"attempts"`
	Code       apperror.Code `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	// Stats is the relay's own view, fetched when the bundle expires.
	Stats *BundleStats `json:"stats,omitempty"`
}

// Record tracks one bundle from submission to a terminal state.
type Record struct {
	BundleID      uuid.UUID        `json:"bundle_id"`
	OpportunityID uuid.UUID        `json:"opportunity_id"`
	Kind          opportunity.Kind `json:"kind"`
	Route         string           `json:"route"`

	State  State         `json:"state"`
	Reason apperror.Code `json:"reason,omitempty"`

	Relays   []RelayReceipt `json:"relays"`
	TxHashes []string       `json:"tx_hashes"`

	TargetBlock   uint64 `json:"target_block"`
	IncludedBlock uint64 `json:"included_block,omitempty"`
	Attempts      int    `json:"attempts"`
	Resubmissions int    `json:"resubmissions"`

	LastGasPrice   *big.Int        `json:"last_gas_price"`
	GasLimit       uint64          `json:"gas_limit"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewRecord opens a pending record for b.
func NewRecord(b *bundle.Bundle, now time.Time) Record {
	return Record{
		BundleID:       b.ID,
		OpportunityID:  b.OpportunityID,
		Kind:           b.Kind,
		Route:          b.Route,
		State:          StatePending,
		TxHashes:       b.TxHashes(),
		TargetBlock:    b.TargetBlock,
		Resubmissions:  b.Repriced,
		LastGasPrice:   new(big.Int).Set(b.GasFeeCap),
		GasLimit:       b.GasLimit(),
		ExpectedProfit: b.ExpectedProfit,
		SubmittedAt:    now,
		UpdatedAt:      now,
		ExpiresAt:      b.MaxTimestamp,
	}
}

// Transition moves a pending record to a terminal state.
func (r *Record) Transition(to State, reason apperror.Code, now time.Time) error {
	if r.State.Terminal() {
		return apperror.New(apperror.CodeInvalidState,
			apperror.WithContext(fmt.Sprintf("record %s already %s", r.BundleID, r.State)))
	}
	if to == StatePending {
		return apperror.New(apperror.CodeInvalidState,
			apperror.WithContext("cannot transition back to pending"))
	}
	r.State = to
	r.Reason = reason
	r.UpdatedAt = now
	return nil
}

// LastTxHash is the hash that proves inclusion of the whole bundle.
func (r Record) LastTxHash() string {
	if len(r.TxHashes) == 0 {
		return ""
	}
	return r.TxHashes[len(r.TxHashes)-1]
}

// Accepted reports whether at least one relay acknowledged the bundle.
func (r Record) Accepted() bool {
	for _, rr := range r.Relays {
		if rr.Accepted {
			return true
		}
	}
	return false
}

// Rejected reports whether any relay refused the bundle outright.
func (r Record) Rejected() bool {
	for _, rr := range r.Relays {
		if rr.Code == apperror.CodeRelayRejected {
			return true
		}
	}
	return false
}

// Outcome is the settled result of a terminal record, reported to the risk
// governor and the profit tracker.
type Outcome struct {
	Included bool
	// RealizedProfit is the net profit in base-asset units; negative when only gas was lost.
	RealizedProfit decimal.Decimal
	// GasCost is the gas spent in base-asset units.
	GasCost decimal.Decimal
	// Notional is the capital that was at risk.
	Notional decimal.Decimal
}
