// Package domain contains the bundle and simulation model.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// TxRole is the part a transaction plays in a bundle.
type TxRole string

const (
	RoleFlashBorrow TxRole = "flash-borrow"
	RoleSwap        TxRole = "swap"
	RoleFlashRepay  TxRole = "flash-repay"
)

// BundleTx is one signed transaction of a bundle.
type BundleTx struct {
	Role TxRole
	Tx   *types.Transaction
}

// Bundle is an ordered, atomic set of signed transactions targeting one block.
type Bundle struct {
	ID            uuid.UUID
	OpportunityID uuid.UUID
	Kind          opportunity.Kind
	Route         string

	Txs          []BundleTx
	TargetBlock  uint64
	MinTimestamp time.Time
	MaxTimestamp time.Time

	GasFeeCap *big.Int // wei
	GasTipCap *big.Int // wei
	FlashLoan bool

	// ExpectedProfit is the evaluated net profit in base-asset units.
	ExpectedProfit decimal.Decimal
	// Repriced counts fee bumps applied to this bundle.
	Repriced int
}

// RawTxs returns the hex-encoded signed transactions in bundle order.
func (b *Bundle) RawTxs() ([]string, error) {
	out := make([]string, len(b.Txs))
	for i, btx := range b.Txs {
		raw, err := btx.Tx.MarshalBinary()
		if err != nil {
			return nil, apperror.New(apperror.CodeBundleInvalid,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("encode tx %d", i)))
		}
		out[i] = hexutil.Encode(raw)
	}
	return out, nil
}

// TxHashes returns the transaction hashes in bundle order.
func (b *Bundle) TxHashes() []string {
	out := make([]string, len(b.Txs))
	for i, btx := range b.Txs {
		out[i] = btx.Tx.Hash().Hex()
	}
	return out
}

// GasLimit sums the gas limits of all transactions.
func (b *Bundle) GasLimit() uint64 {
	var total uint64
	for _, btx := range b.Txs {
		total += btx.Tx.Gas()
	}
	return total
}

// Expired reports whether now is past the bundle's validity window.
func (b *Bundle) Expired(now time.Time) bool {
	return now.After(b.MaxTimestamp)
}

// ValidateAtomicity checks transaction ordering. A flash-loan bundle borrows
// exactly once, first, and repays exactly once, last, with only swaps between.
// Any other bundle contains swaps only.
func (b *Bundle) ValidateAtomicity() error {
	invalid := func(reason string) error {
		return apperror.New(apperror.CodeBundleInvalid,
			apperror.WithContext(fmt.Sprintf("bundle %s: %s", b.ID, reason)))
	}

	if len(b.Txs) == 0 {
		return invalid("no transactions")
	}
	if !b.MaxTimestamp.After(b.MinTimestamp) {
		return invalid("empty validity window")
	}

	swaps := b.Txs
	if b.FlashLoan {
		if len(b.Txs) < 3 {
			return invalid("flash-loan bundle needs borrow, swaps and repay")
		}
		if b.Txs[0].Role != RoleFlashBorrow {
			return invalid("flash borrow is not first")
		}
		if b.Txs[len(b.Txs)-1].Role != RoleFlashRepay {
			return invalid("flash repay is not last")
		}
		swaps = b.Txs[1 : len(b.Txs)-1]
	}
	for i, btx := range swaps {
		if btx.Role != RoleSwap {
			return invalid(fmt.Sprintf("unexpected %s at swap position %d", btx.Role, i))
		}
	}
	return nil
}
