package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
)

// BlockchainService coordinates blockchain interactions.
type BlockchainService struct {
	subscriber BlockSubscriber
	gasOracle  GasOracle
	accounts   AccountReader
}

// NewBlockchainService creates a new BlockchainService.
func NewBlockchainService(subscriber BlockSubscriber, gasOracle GasOracle, accounts AccountReader) *BlockchainService {
	return &BlockchainService{
		subscriber: subscriber,
		gasOracle:  gasOracle,
		accounts:   accounts,
	}
}

// SubscribeBlocks starts the block subscription and returns the channel.
func (s *BlockchainService) SubscribeBlocks(ctx context.Context) (<-chan *domain.Block, error) {
	return s.subscriber.Subscribe(ctx)
}

// GetGasPrice retrieves the current gas price.
func (s *BlockchainService) GetGasPrice(ctx context.Context) (*domain.GasPrice, error) {
	return s.gasOracle.GetGasPrice(ctx)
}

// FeeQuote retrieves the EIP-1559 fee state.
func (s *BlockchainService) FeeQuote(ctx context.Context) (domain.FeeQuote, error) {
	return s.gasOracle.FeeQuote(ctx)
}

// PendingNonce returns the next nonce for account, counting pending transactions.
func (s *BlockchainService) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return s.accounts.PendingNonce(ctx, account)
}

// Balance returns the latest balance of account in wei.
func (s *BlockchainService) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return s.accounts.Balance(ctx, account)
}

// Inclusion reports whether txHash has been mined and in which block.
func (s *BlockchainService) Inclusion(ctx context.Context, txHash common.Hash) (uint64, bool, error) {
	return s.accounts.Inclusion(ctx, txHash)
}

// ConnectionState returns the current connection state.
func (s *BlockchainService) ConnectionState() domain.ConnectionState {
	return s.subscriber.State()
}

// ConnectionStatus returns the head stream details.
func (s *BlockchainService) ConnectionStatus() domain.ConnectionStatus {
	return s.subscriber.Status()
}
