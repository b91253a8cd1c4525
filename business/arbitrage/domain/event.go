// Package domain contains the pipeline's outbound event model and pass policy.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// EventKind names a pipeline milestone.
type EventKind string

const (
	EventSnapshot         EventKind = "snapshot_received"
	EventPassSkipped      EventKind = "pass_skipped"
	EventOpportunityFound EventKind = "opportunity_found"
	EventProfitAnalyzed   EventKind = "profit_analyzed"
	EventBundleSimulated  EventKind = "bundle_simulated"
	EventSubmission       EventKind = "submission_transition"
	EventBreakerTripped   EventKind = "breaker_tripped"
	EventBreakerReset     EventKind = "breaker_reset"
)

// Event is one structured notification for external logging and alerting.
// Amounts are in base-asset units. Fields that do not apply to a kind stay zero.
type Event struct {
	Kind  EventKind
	At    time.Time
	Block uint64

	OpportunityID uuid.UUID
	BundleID      uuid.UUID
	Strategy      opportunity.Kind
	Route         string

	GrossProfit  decimal.Decimal
	NetProfit    decimal.Decimal
	GasCost      decimal.Decimal
	GasPriceGwei decimal.Decimal
	ROIPercent   decimal.Decimal

	// Profitable for analyses, Success for simulations.
	Profitable bool
	Success    bool

	// State is the submission state for transitions.
	State string
	// Reason is an error code or rejection reason; empty on the happy path.
	Reason string
	Detail string
}

// Failed reports whether the event describes an adverse outcome.
func (e Event) Failed() bool {
	switch e.Kind {
	case EventBundleSimulated:
		return !e.Success
	case EventSubmission:
		return e.State == "rejected" || e.State == "expired"
	case EventBreakerTripped:
		return true
	}
	return false
}
