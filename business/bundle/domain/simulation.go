package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// CallResult is one transaction's outcome in a bundle simulation.
type CallResult struct {
	TxHash  string
	GasUsed uint64
	Return  []byte
	Revert  string
	Error   string
}

// Failed reports whether the call reverted or errored.
func (r CallResult) Failed() bool { return r.Revert != "" || r.Error != "" }

// CallBundleResult is the raw answer of a bundle simulation endpoint.
type CallBundleResult struct {
	BundleHash   string
	CoinbaseDiff *big.Int
	Results      []CallResult
}

// SimulationResult is the interpreted outcome of simulating a bundle.
type SimulationResult struct {
	Success      bool
	BundleHash   string
	GasUsed      []uint64
	CoinbaseDiff *big.Int
	RevertReason string

	// Base-asset units.
	ExpectedNet decimal.Decimal
	RealizedNet decimal.Decimal
	Divergence  decimal.Decimal // |realized - expected| / |expected|
}

// TotalGasUsed sums per-transaction gas.
func (r SimulationResult) TotalGasUsed() uint64 {
	var total uint64
	for _, g := range r.GasUsed {
		total += g
	}
	return total
}

// Divergence returns |realized - expected| / |expected|. A zero expectation
// diverges fully unless realized is also zero.
func Divergence(expected, realized decimal.Decimal) decimal.Decimal {
	diff := realized.Sub(expected).Abs()
	if expected.IsZero() {
		if diff.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1)
	}
	return diff.Div(expected.Abs())
}
