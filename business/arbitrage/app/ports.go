// Package app contains the per-block arbitrage pipeline and its port definitions.
package app

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	blockchain "github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	opportunityApp "github.com/fd1az/arbitrage-pipeline/business/opportunity/app"
	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	profitApp "github.com/fd1az/arbitrage-pipeline/business/profit/app"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	riskApp "github.com/fd1az/arbitrage-pipeline/business/risk/app"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

// SnapshotSource delivers one market snapshot per block.
type SnapshotSource interface {
	Snapshots(ctx context.Context) (<-chan *market.Snapshot, error)
	// MempoolRate is the observed pending transaction rate per minute.
	MempoolRate() float64
}

// FeeSource quotes the current network fee.
type FeeSource interface {
	FeeQuote(ctx context.Context) (blockchain.FeeQuote, error)
}

// Searcher finds candidate paths in a snapshot.
type Searcher interface {
	Search(snap *market.Snapshot, kinds ...opportunity.Kind) *opportunityApp.Results
}

// Evaluator prices an opportunity under a gas strategy.
type Evaluator interface {
	Evaluate(o opportunity.Opportunity, gs profitApp.GasStrategy) profit.ProfitAnalysis
}

// GasTracker keeps the gas window and per-strategy execution statistics.
type GasTracker interface {
	ObserveGas(wei *big.Int)
	Strategy(current *big.Int) profitApp.GasStrategy
	VolatilityPercent() float64
	RecordOutcome(kind opportunity.Kind, included bool, realizedNet, roiPercent decimal.Decimal)
}

// RiskGate authorizes trades and consumes their outcomes.
type RiskGate interface {
	Decide(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) error
	Record(ctx context.Context, rec submission.Record, out submission.Outcome)
	StrategyEnabled(kind opportunity.Kind) bool
	OnBreaker(l riskApp.Listener)
}

// BundleBuilder turns an approved opportunity into a simulated bundle.
type BundleBuilder interface {
	BuildAndSimulate(ctx context.Context, o opportunity.Opportunity, a profit.ProfitAnalysis) (*bundle.SimulationResult, *bundle.Bundle, error)
}

// Submitter sends bundles to relays and follows them to a terminal state.
type Submitter interface {
	Submit(ctx context.Context, b *bundle.Bundle) (submission.Record, error)
	Track(ctx context.Context, rec submission.Record, b *bundle.Bundle, a profit.ProfitAnalysis, head func() uint64) (submission.Record, error)
}

// Reporter receives pipeline events for display or alerting.
type Reporter interface {
	// Start initializes the reporter.
	Start(ctx context.Context) error

	// Report must not block the pipeline for long.
	Report(ev domain.Event)

	// Stop gracefully shuts down the reporter.
	Stop() error
}
