// Package app contains the market snapshot service and its ports.
package app

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/market/domain"
)

// PoolReader reads pool state at a given block.
type PoolReader interface {
	// ReadPools returns the state of every watched pool. Pools that fail to
	// read are omitted and reported through the returned diagnostics.
	ReadPools(ctx context.Context, block uint64) ([]domain.Pool, []error)
}

// PendingSource exposes the visible mempool.
type PendingSource interface {
	// Pending returns pending transactions seen within the watch window.
	Pending() []domain.PendingTx
	// RatePerMinute returns the observed pending-transaction arrival rate.
	RatePerMinute() float64
}

// SnapshotProvider produces market snapshots, one per block.
type SnapshotProvider interface {
	Snapshots(ctx context.Context) (<-chan *domain.Snapshot, error)
}
