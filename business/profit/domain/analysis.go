// Package domain contains the profit analysis model, gas history and execution statistics.
package domain

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// MarketCondition describes short-term gas price behaviour.
type MarketCondition string

const (
	ConditionStable   MarketCondition = "stable"
	ConditionVolatile MarketCondition = "volatile"
)

// RiskLevel is a coarse execution risk bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rejection reasons for unprofitable analyses.
const (
	ReasonBelowMinProfit = "below_min_profit"
	ReasonBelowMinROI    = "below_min_roi"
	ReasonGasFraction    = "gas_fraction_exceeded"
)

// ProfitAnalysis is the evaluated economics of one opportunity.
// All amounts are in base-asset units unless noted.
type ProfitAnalysis struct {
	OpportunityID uuid.UUID
	Kind          opportunity.Kind

	AmountIn     decimal.Decimal // trade size
	Complexity   float64
	GrossProfit  decimal.Decimal
	GasCost      decimal.Decimal
	VenueFees    decimal.Decimal
	FlashLoanFee decimal.Decimal
	NetProfit    decimal.Decimal
	ROIPercent   decimal.Decimal
	GasFraction  decimal.Decimal // gas cost / gross profit

	GasUnits            uint64
	RecommendedGasPrice *big.Int // wei
	Condition           MarketCondition

	FlashLoan     bool
	CapitalAtRisk decimal.Decimal

	Profitable bool
	Reason     string // empty when profitable

	Confidence float64
	Risk       RiskLevel

	// Set by ranking.
	Weight float64
	Score  decimal.Decimal
}

// GasPriceGwei returns the recommended gas price in gwei.
func (a ProfitAnalysis) GasPriceGwei() decimal.Decimal {
	if a.RecommendedGasPrice == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.RecommendedGasPrice, -9)
}
