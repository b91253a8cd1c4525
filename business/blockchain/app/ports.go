// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
)

// BlockSubscriber defines the interface for subscribing to new blocks.
type BlockSubscriber interface {
	// Subscribe starts listening for new blocks and returns a channel of blocks.
	Subscribe(ctx context.Context) (<-chan *domain.Block, error)

	// LatestBlock retrieves the most recent block.
	LatestBlock(ctx context.Context) (*domain.Block, error)

	// State returns the current connection state.
	State() domain.ConnectionState

	// Status reports the head stream's source, last head and reorg count.
	Status() domain.ConnectionStatus
}

// GasOracle defines the interface for gas price information.
type GasOracle interface {
	// GetGasPrice retrieves the current gas price.
	GetGasPrice(ctx context.Context) (*domain.GasPrice, error)

	// FeeQuote retrieves base fee and priority tip for EIP-1559 transactions.
	FeeQuote(ctx context.Context) (domain.FeeQuote, error)
}

// AccountReader reads executor account state.
type AccountReader interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Inclusion(ctx context.Context, txHash common.Hash) (block uint64, mined bool, err error)
}
