// Package app contains the profit evaluator, ranking and outcome tracking.
package app

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Policy holds the thresholds and gas policy the evaluator applies.
type Policy struct {
	MinProfit      decimal.Decimal // base-asset units
	MinROIPercent  decimal.Decimal
	MaxGasFraction decimal.Decimal

	// Applied to the current gas price; volatile markets use the conservative one.
	ConservativeMultiplier decimal.Decimal
	AggressiveMultiplier   decimal.Decimal
	VolatilityWindow       int
	VolatilityThreshold    float64 // gwei²

	FlashLoanPremium decimal.Decimal
	FlashLoanGas     uint64
	AvailableCapital decimal.Decimal
}

// PolicyFromConfig converts the profit config section.
func PolicyFromConfig(cfg config.ProfitConfig) Policy {
	return Policy{
		MinProfit:              cfg.MinProfitDecimal(),
		MinROIPercent:          decimal.NewFromFloat(cfg.MinROIPercent),
		MaxGasFraction:         decimal.NewFromFloat(cfg.MaxGasFraction),
		ConservativeMultiplier: decimal.NewFromFloat(cfg.ConservativeMultiplier),
		AggressiveMultiplier:   decimal.NewFromFloat(cfg.AggressiveMultiplier),
		VolatilityWindow:       cfg.VolatilityWindow,
		VolatilityThreshold:    cfg.VolatilityThreshold,
		FlashLoanPremium:       decimal.NewFromFloat(cfg.FlashLoanPremium),
		FlashLoanGas:           cfg.FlashLoanGas,
		AvailableCapital:       decimal.NewFromFloat(cfg.AvailableCapital),
	}
}

// Validate rejects policies that would under-price gas or never pass.
func (p Policy) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext(fmt.Sprintf(format, args...)))
	}
	if p.ConservativeMultiplier.LessThan(one) {
		return invalid("conservative gas multiplier %s < 1", p.ConservativeMultiplier)
	}
	if p.AggressiveMultiplier.LessThan(one) {
		return invalid("aggressive gas multiplier %s < 1", p.AggressiveMultiplier)
	}
	if !p.MaxGasFraction.IsPositive() || p.MaxGasFraction.GreaterThan(one) {
		return invalid("max gas fraction %s must be in (0, 1]", p.MaxGasFraction)
	}
	if p.MinProfit.IsNegative() || p.MinROIPercent.IsNegative() {
		return invalid("profit floors must be non-negative")
	}
	if p.FlashLoanPremium.IsNegative() || p.AvailableCapital.IsNegative() {
		return invalid("flash loan premium and capital must be non-negative")
	}
	return nil
}

// GasStrategy is the gas market input to one evaluation.
type GasStrategy struct {
	Current *big.Int  // wei
	Window  []float64 // recent samples in gwei, oldest first
}

// Evaluator computes ProfitAnalysis values. It holds no mutable state.
type Evaluator struct {
	policy Policy
}

// NewEvaluator validates the policy and creates an evaluator.
func NewEvaluator(policy Policy) (*Evaluator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{policy: policy}, nil
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// Condition classifies a gas window by its variance.
func (e *Evaluator) Condition(window []float64) domain.MarketCondition {
	if domain.Variance(window) > e.policy.VolatilityThreshold {
		return domain.ConditionVolatile
	}
	return domain.ConditionStable
}

// RecommendedGasPrice applies the multiplier for the given condition to current (wei).
func (e *Evaluator) RecommendedGasPrice(current *big.Int, cond domain.MarketCondition) *big.Int {
	if current == nil {
		return new(big.Int)
	}
	mult := e.policy.AggressiveMultiplier
	if cond == domain.ConditionVolatile {
		mult = e.policy.ConservativeMultiplier
	}
	return decimal.NewFromBigInt(current, 0).Mul(mult).BigInt()
}

// Evaluate computes the economics of o under gs. It is deterministic and
// does not modify its inputs.
func (e *Evaluator) Evaluate(o opportunity.Opportunity, gs GasStrategy) domain.ProfitAnalysis {
	p := e.policy

	cond := e.Condition(gs.Window)
	price := e.RecommendedGasPrice(gs.Current, cond)

	a := domain.ProfitAnalysis{
		OpportunityID:       o.ID,
		Kind:                o.Kind,
		AmountIn:            o.AmountInBase,
		Complexity:          o.Complexity,
		GrossProfit:         o.GrossProfit,
		VenueFees:           o.VenueFees,
		FlashLoanFee:        decimal.Zero,
		GasUnits:            o.GasUnits,
		RecommendedGasPrice: price,
		Condition:           cond,
		Weight:              1,
	}

	if o.AmountInBase.GreaterThan(p.AvailableCapital) {
		a.FlashLoan = true
		a.FlashLoanFee = o.AmountInBase.Mul(p.FlashLoanPremium)
		a.GasUnits += p.FlashLoanGas
	}

	e.settle(&a)
	a.Confidence = confidence(o, a.NetProfit)
	return a
}

// AtGasPrice re-evaluates a as if it paid price per gas unit. Trade
// economics other than gas are unchanged.
func (e *Evaluator) AtGasPrice(a domain.ProfitAnalysis, price *big.Int) domain.ProfitAnalysis {
	a.RecommendedGasPrice = new(big.Int).Set(price)
	a.Profitable = false
	a.Reason = ""
	e.settle(&a)
	return a
}

// settle derives cost, net, ratios and the verdict from the gas price and
// trade fields already set on a.
func (e *Evaluator) settle(a *domain.ProfitAnalysis) {
	p := e.policy

	a.GasCost = decimal.NewFromBigInt(a.RecommendedGasPrice, -18).Mul(decimal.NewFromInt(int64(a.GasUnits)))
	a.NetProfit = a.GrossProfit.Sub(a.GasCost).Sub(a.VenueFees).Sub(a.FlashLoanFee)
	a.ROIPercent = decimal.Zero
	if a.AmountIn.IsPositive() {
		a.ROIPercent = a.NetProfit.Div(a.AmountIn).Mul(hundred)
	}

	gasOK := false
	a.GasFraction = decimal.Zero
	if a.GrossProfit.IsPositive() {
		a.GasFraction = a.GasCost.Div(a.GrossProfit)
		gasOK = a.GasFraction.LessThanOrEqual(p.MaxGasFraction)
	}

	switch {
	case a.NetProfit.LessThan(p.MinProfit):
		a.Reason = domain.ReasonBelowMinProfit
	case a.ROIPercent.LessThan(p.MinROIPercent):
		a.Reason = domain.ReasonBelowMinROI
	case !gasOK:
		a.Reason = domain.ReasonGasFraction
	default:
		a.Profitable = true
	}

	if a.FlashLoan {
		a.CapitalAtRisk = a.GasCost.Add(a.FlashLoanFee)
	} else {
		a.CapitalAtRisk = a.AmountIn
	}

	a.Risk = riskLevel(a.Complexity, a.NetProfit)
	a.Score = a.NetProfit
}

var (
	strongProfit = decimal.RequireFromString("0.01")
	thinProfit   = decimal.RequireFromString("0.005")
)

// confidence scores how likely the path executes as quoted, in [0.1, 1].
func confidence(o opportunity.Opportunity, net decimal.Decimal) float64 {
	c := 0.7
	if len(o.Hops) > 3 {
		c -= 0.1
	}
	switch {
	case net.GreaterThan(strongProfit):
		c += 0.1
	case net.LessThan(thinProfit):
		c -= 0.1
	}
	if len(o.Hops) > 0 {
		reliable := 0
		for _, h := range o.Hops {
			if h.Venue.Reliable() {
				reliable++
			}
		}
		c += float64(reliable) / float64(len(o.Hops)) * 0.1
	}
	return max(0.1, min(1.0, c))
}

func riskLevel(complexity float64, net decimal.Decimal) domain.RiskLevel {
	switch {
	case complexity > 5 || net.LessThan(thinProfit):
		return domain.RiskHigh
	case complexity > 3 || net.LessThan(strongProfit):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
