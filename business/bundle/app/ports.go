package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	blockchain "github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
)

// Signer signs bundle transactions. Key custody stays behind this port.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Simulator executes a bundle against chain state without broadcasting it.
type Simulator interface {
	Simulate(ctx context.Context, b *domain.Bundle) (domain.CallBundleResult, error)
}

// ChainState provides the account and fee data a bundle is built from.
type ChainState interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	FeeQuote(ctx context.Context) (blockchain.FeeQuote, error)
}

// TokenResolver looks up token metadata.
type TokenResolver interface {
	GetToken(chainID uint64, address common.Address) (*asset.Asset, bool)
}
