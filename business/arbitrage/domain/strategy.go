package domain

import (
	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// Plan is the search strategy chosen for one pass.
type Plan string

const (
	// PlanSkip runs no search: gas or volatility is too high to trade.
	PlanSkip Plan = "skip"
	// PlanSimple searches two-hop and concentrated-liquidity paths.
	PlanSimple Plan = "simple"
	// PlanMultiHop adds bounded multi-hop search.
	PlanMultiHop Plan = "multi_hop"
)

// Kinds returns the path classifications searched under p.
func (p Plan) Kinds() []opportunity.Kind {
	switch p {
	case PlanSimple:
		return []opportunity.Kind{opportunity.KindDirect, opportunity.KindCrossVenue, opportunity.KindConcentrated}
	case PlanMultiHop:
		return []opportunity.Kind{opportunity.KindDirect, opportunity.KindCrossVenue, opportunity.KindConcentrated, opportunity.KindMultiHop}
	default:
		return nil
	}
}

// Conditions are the market inputs to strategy selection.
type Conditions struct {
	GasGwei           float64
	VolatilityPercent float64
	MempoolTxPerMin   float64
}

// Thresholds configure strategy selection. A non-positive threshold disables its check.
type Thresholds struct {
	HighGasGwei            float64
	MediumGasGwei          float64
	SkipVolatilityPercent  float64
	HighMempoolTxPerMinute float64
}

// SelectPlan picks the pass strategy. Gas or volatility at or above their
// skip thresholds skip the pass; a busy mempool with gas below the medium
// threshold enables multi-hop search.
func SelectPlan(c Conditions, t Thresholds) (Plan, string) {
	if t.HighGasGwei > 0 && c.GasGwei >= t.HighGasGwei {
		return PlanSkip, "gas_too_high"
	}
	if t.SkipVolatilityPercent > 0 && c.VolatilityPercent >= t.SkipVolatilityPercent {
		return PlanSkip, "volatility_too_high"
	}
	if t.HighMempoolTxPerMinute > 0 && c.MempoolTxPerMin >= t.HighMempoolTxPerMinute &&
		(t.MediumGasGwei <= 0 || c.GasGwei < t.MediumGasGwei) {
		return PlanMultiHop, ""
	}
	return PlanSimple, ""
}
