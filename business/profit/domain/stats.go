package domain

import "github.com/shopspring/decimal"

// ExecutionStats aggregates submission outcomes for one strategy.
type ExecutionStats struct {
	Attempts    int
	Inclusions  int
	RealizedNet decimal.Decimal
	totalROI    decimal.Decimal
}

// Record adds one terminal outcome. roiPercent is ignored for failed attempts.
func (s *ExecutionStats) Record(included bool, realizedNet, roiPercent decimal.Decimal) {
	s.Attempts++
	if !included {
		return
	}
	s.Inclusions++
	s.RealizedNet = s.RealizedNet.Add(realizedNet)
	s.totalROI = s.totalROI.Add(roiPercent)
}

// SuccessRate returns inclusions / attempts in [0, 1].
func (s ExecutionStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Inclusions) / float64(s.Attempts)
}

// AverageROI returns the mean ROI percent of included bundles.
func (s ExecutionStats) AverageROI() decimal.Decimal {
	if s.Inclusions == 0 {
		return decimal.Zero
	}
	return s.totalROI.Div(decimal.NewFromInt(int64(s.Inclusions)))
}
