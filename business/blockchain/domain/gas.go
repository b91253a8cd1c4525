package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

var weiPerGwei = decimal.New(1, 9)

// GasPrice is a gas price observation.
type GasPrice struct {
	Wei       *big.Int
	Timestamp time.Time
}

// NewGasPrice creates a GasPrice from wei.
func NewGasPrice(wei *big.Int) *GasPrice {
	return &GasPrice{
		Wei:       new(big.Int).Set(wei),
		Timestamp: time.Now(),
	}
}

// Gwei returns the price in gwei.
func (p *GasPrice) Gwei() float64 {
	f, _ := decimal.NewFromBigInt(p.Wei, 0).Div(weiPerGwei).Float64()
	return f
}

// FeeQuote is the EIP-1559 fee state used to price a bundle.
type FeeQuote struct {
	BaseFee *big.Int
	TipCap  *big.Int
	// GasPrice is the legacy-equivalent price: base fee plus tip.
	GasPrice *GasPrice
}

// FeeCap returns the max fee per gas allowing the base fee to double once.
func (q FeeQuote) FeeCap() *big.Int {
	fc := new(big.Int).Mul(q.BaseFee, big.NewInt(2))
	return fc.Add(fc, q.TipCap)
}

// GasEstimate is the cost of an operation at a given price.
type GasEstimate struct {
	GasLimit uint64
	GasPrice *GasPrice
	TotalWei *big.Int
}

// NewGasEstimate computes the total cost of gasLimit at price.
func NewGasEstimate(gasLimit uint64, price *GasPrice) *GasEstimate {
	total := new(big.Int).Mul(price.Wei, new(big.Int).SetUint64(gasLimit))
	return &GasEstimate{
		GasLimit: gasLimit,
		GasPrice: price,
		TotalWei: total,
	}
}

// TotalGwei returns the total cost in gwei.
func (e *GasEstimate) TotalGwei() float64 {
	f, _ := decimal.NewFromBigInt(e.TotalWei, 0).Div(weiPerGwei).Float64()
	return f
}

// TotalEther returns the total cost in ether.
func (e *GasEstimate) TotalEther() decimal.Decimal {
	return decimal.NewFromBigInt(e.TotalWei, -18)
}
