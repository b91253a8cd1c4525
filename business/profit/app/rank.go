package app

import (
	"slices"

	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/business/profit/domain"
)

// StrategyWeightProvider supplies ranking weights per opportunity kind.
// Implementations are read-only from the evaluator's point of view.
type StrategyWeightProvider interface {
	Weight(kind opportunity.Kind) float64
}

// StaticWeights is a fixed weight table. Missing kinds weigh 1.
type StaticWeights map[opportunity.Kind]float64

// Weight implements StrategyWeightProvider.
func (w StaticWeights) Weight(kind opportunity.Kind) float64 {
	if v, ok := w[kind]; ok {
		return v
	}
	return 1
}

// WeightsFromConfig builds a weight table from strategy config keys.
func WeightsFromConfig(weights map[string]float64) StaticWeights {
	out := make(StaticWeights, len(weights))
	for k, v := range weights {
		out[opportunity.Kind(k)] = v
	}
	return out
}

// Rank returns a copy of analyses ordered by net profit × strategy weight,
// highest first. Ties keep net profit order, then opportunity ID.
func Rank(analyses []domain.ProfitAnalysis, weights StrategyWeightProvider) []domain.ProfitAnalysis {
	ranked := slices.Clone(analyses)
	for i := range ranked {
		w := 1.0
		if weights != nil {
			w = weights.Weight(ranked[i].Kind)
		}
		ranked[i].Weight = w
		ranked[i].Score = ranked[i].NetProfit.Mul(decimal.NewFromFloat(w))
	}

	slices.SortStableFunc(ranked, func(a, b domain.ProfitAnalysis) int {
		if c := b.Score.Cmp(a.Score); c != 0 {
			return c
		}
		if c := b.NetProfit.Cmp(a.NetProfit); c != 0 {
			return c
		}
		return slices.Compare(a.OpportunityID[:], b.OpportunityID[:])
	})
	return ranked
}
