package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

// GasSpend converts gasUsed at priceWei per unit into ether.
func GasSpend(gasUsed uint64, priceWei *big.Int) decimal.Decimal {
	if priceWei == nil || gasUsed == 0 {
		return decimal.Zero
	}
	total := new(big.Int).Mul(priceWei, new(big.Int).SetUint64(gasUsed))
	return decimal.NewFromBigInt(total, -18)
}

// SettleOutcome derives the realized result of a terminal submission.
// An included bundle realizes its simulated profit, re-costed at the fee it
// was finally sent with. Anything else realizes nothing: relay bundles that
// do not land pay no gas.
func SettleOutcome(rec submission.Record, b *bundle.Bundle, sim *bundle.SimulationResult, a profit.ProfitAnalysis) submission.Outcome {
	out := submission.Outcome{
		Included:       rec.State == submission.StateIncluded,
		RealizedProfit: decimal.Zero,
		GasCost:        decimal.Zero,
		Notional:       a.CapitalAtRisk,
	}
	if !out.Included {
		return out
	}

	if sim == nil || len(sim.GasUsed) == 0 {
		out.GasCost = a.GasCost
		out.RealizedProfit = a.NetProfit
		return out
	}

	used := sim.TotalGasUsed()
	var simulatedAt *big.Int
	if b != nil {
		simulatedAt = b.GasFeeCap
	}
	gross := sim.RealizedNet.Add(GasSpend(used, simulatedAt))

	paid := rec.LastGasPrice
	if paid == nil {
		paid = simulatedAt
	}
	out.GasCost = GasSpend(used, paid)
	out.RealizedProfit = gross.Sub(out.GasCost)
	return out
}
