package ethereum

import (
	"context"
	"errors"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/app"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/circuitbreaker"
)

// Ensure AccountReader implements app.AccountReader.
var _ app.AccountReader = (*AccountReader)(nil)

// AccountClient is the subset of *ethclient.Client used for account state.
type AccountClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// AccountReader reads nonces, balances and receipts.
type AccountReader struct {
	client    AccountClient
	nonceCB   *circuitbreaker.CircuitBreaker[uint64]
	balanceCB *circuitbreaker.CircuitBreaker[*big.Int]
	receiptCB *circuitbreaker.CircuitBreaker[*types.Receipt]
	tracer    trace.Tracer
}

// NewAccountReader creates an account reader.
func NewAccountReader(client AccountClient) *AccountReader {
	return &AccountReader{
		client:    client,
		nonceCB:   circuitbreaker.New[uint64](circuitbreaker.DefaultConfig("eth-nonce")),
		balanceCB: circuitbreaker.New[*big.Int](circuitbreaker.DefaultConfig("eth-balance")),
		receiptCB: circuitbreaker.New[*types.Receipt](circuitbreaker.DefaultConfig("eth-receipt")),
		tracer:    otel.Tracer(tracerName),
	}
}

// PendingNonce returns the next usable nonce of account.
func (r *AccountReader) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, span := r.tracer.Start(ctx, "eth.pending_nonce",
		trace.WithAttributes(attribute.String("account", account.Hex())),
	)
	defer span.End()

	nonce, err := r.nonceCB.Execute(func() (uint64, error) {
		return r.client.PendingNonceAt(ctx, account)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nonce failed")
		return 0, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to read nonce of "+account.Hex()))
	}
	span.SetStatus(codes.Ok, "fetched")
	return nonce, nil
}

// Balance returns the latest balance of account in wei.
func (r *AccountReader) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, span := r.tracer.Start(ctx, "eth.balance",
		trace.WithAttributes(attribute.String("account", account.Hex())),
	)
	defer span.End()

	bal, err := r.balanceCB.Execute(func() (*big.Int, error) {
		return r.client.BalanceAt(ctx, account, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance failed")
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to read balance of "+account.Hex()))
	}
	span.SetStatus(codes.Ok, "fetched")
	return bal, nil
}

// Inclusion reports the block a transaction was mined in. A transaction the
// node has no receipt for is not an error.
func (r *AccountReader) Inclusion(ctx context.Context, txHash common.Hash) (uint64, bool, error) {
	ctx, span := r.tracer.Start(ctx, "eth.receipt",
		trace.WithAttributes(attribute.String("tx", txHash.Hex())),
	)
	defer span.End()

	receipt, err := r.receiptCB.Execute(func() (*types.Receipt, error) {
		rc, err := r.client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, goethereum.NotFound) {
			return nil, nil
		}
		return rc, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "receipt failed")
		return 0, false, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to read receipt of "+txHash.Hex()))
	}
	if receipt == nil || receipt.BlockNumber == nil {
		span.SetStatus(codes.Ok, "pending")
		return 0, false, nil
	}
	span.SetAttributes(attribute.Int64("block", receipt.BlockNumber.Int64()))
	span.SetStatus(codes.Ok, "mined")
	return receipt.BlockNumber.Uint64(), true, nil
}
