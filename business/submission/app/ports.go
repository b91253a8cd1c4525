// Package app coordinates relay submission and inclusion tracking.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

// Relay accepts bundles for inclusion.
type Relay interface {
	Name() string
	// SendBundle returns the relay's bundle hash. A refusal by the relay is
	// RELAY_REJECTED; transport failures are retryable codes.
	SendBundle(ctx context.Context, b *bundle.Bundle) (string, error)
	Stats() domain.RelayStats
}

// BundleInspector is implemented by relays that can report how they handled
// a bundle they accepted.
type BundleInspector interface {
	BundleStats(ctx context.Context, bundleHash string, block uint64) (domain.BundleStats, error)
}

// InclusionChecker reports whether a transaction was mined.
type InclusionChecker interface {
	Inclusion(ctx context.Context, txHash common.Hash) (block uint64, mined bool, err error)
}

// Repricer re-signs a bundle at a higher fee.
type Repricer interface {
	Reprice(ctx context.Context, b *bundle.Bundle, factor decimal.Decimal) (*bundle.Bundle, error)
}

// ProfitConfirmer re-checks an analysis at another gas price.
type ProfitConfirmer interface {
	AtGasPrice(a profit.ProfitAnalysis, price *big.Int) profit.ProfitAnalysis
}

// Archive persists terminal submission records.
type Archive interface {
	Save(ctx context.Context, r domain.Record) error
	Get(ctx context.Context, bundleID uuid.UUID) (domain.Record, error)
	Recent(ctx context.Context, limit int) ([]domain.Record, error)
	Close() error
}
