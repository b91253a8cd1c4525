package domain

import (
	"slices"
	"testing"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

func TestSelectPlan(t *testing.T) {
	defaults := Thresholds{
		HighGasGwei:            100,
		MediumGasGwei:          60,
		SkipVolatilityPercent:  10,
		HighMempoolTxPerMinute: 1000,
	}

	tests := []struct {
		name   string
		cond   Conditions
		th     Thresholds
		want   Plan
		reason string
	}{
		{"calm market", Conditions{GasGwei: 30, VolatilityPercent: 2, MempoolTxPerMin: 200}, defaults, PlanSimple, ""},
		{"gas at skip threshold", Conditions{GasGwei: 100}, defaults, PlanSkip, "gas_too_high"},
		{"gas just below skip", Conditions{GasGwei: 99.9}, defaults, PlanSimple, ""},
		{"volatility at skip threshold", Conditions{GasGwei: 30, VolatilityPercent: 10}, defaults, PlanSkip, "volatility_too_high"},
		{"busy mempool, cheap gas", Conditions{GasGwei: 59, MempoolTxPerMin: 1000}, defaults, PlanMultiHop, ""},
		{"busy mempool, gas at medium", Conditions{GasGwei: 60, MempoolTxPerMin: 5000}, defaults, PlanSimple, ""},
		{"quiet mempool", Conditions{GasGwei: 20, MempoolTxPerMin: 999}, defaults, PlanSimple, ""},
		{"gas check disabled", Conditions{GasGwei: 500}, Thresholds{}, PlanSimple, ""},
		{"no medium gas bound", Conditions{GasGwei: 90, MempoolTxPerMin: 2000}, Thresholds{HighMempoolTxPerMinute: 1000}, PlanMultiHop, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := SelectPlan(tt.cond, tt.th)
			if got != tt.want || reason != tt.reason {
				t.Errorf("SelectPlan = %s (%q), want %s (%q)", got, reason, tt.want, tt.reason)
			}
		})
	}
}

func TestPlanKinds(t *testing.T) {
	if PlanSkip.Kinds() != nil {
		t.Error("skip searches nothing")
	}
	if slices.Contains(PlanSimple.Kinds(), opportunity.KindMultiHop) {
		t.Error("simple plan includes multi-hop")
	}
	if !slices.Contains(PlanMultiHop.Kinds(), opportunity.KindMultiHop) {
		t.Error("multi-hop plan excludes multi-hop")
	}
}
