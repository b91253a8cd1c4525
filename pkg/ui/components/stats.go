package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// Stats are running pipeline counters for display.
type Stats struct {
	Snapshots     int64
	Skipped       int64
	Opportunities int64
	Profitable    int64
	Simulated     int64
	SimFailed     int64
	Submitted     int64
	Included      int64
	Expired       int64
	Rejected      int64
	Realized      decimal.Decimal
}

// StatsComponent renders statistics.
type StatsComponent struct {
	stats Stats
}

// NewStatsComponent creates a new stats component.
func NewStatsComponent() *StatsComponent {
	return &StatsComponent{}
}

// Update replaces the statistics.
func (s *StatsComponent) Update(stats Stats) {
	s.stats = stats
}

// Stats returns the current statistics.
func (s *StatsComponent) Stats() Stats { return s.stats }

// View renders the stats component.
func (s *StatsComponent) View() string {
	style := lipgloss.NewStyle().Foreground(ColorDim)
	valueStyle := lipgloss.NewStyle().Foreground(ColorBright).Bold(true)
	errorStyle := lipgloss.NewStyle().Foreground(ColorLoss).Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(ColorProfit).Bold(true)

	n := func(v int64) string { return valueStyle.Render(fmt.Sprintf("%d", v)) }

	inclusion := float64(0)
	if s.stats.Submitted > 0 {
		inclusion = float64(s.stats.Included) / float64(s.stats.Submitted) * 100
	}
	realized := okStyle.Render(s.stats.Realized.StringFixed(5) + " ETH")
	if s.stats.Realized.IsNegative() {
		realized = errorStyle.Render(s.stats.Realized.StringFixed(5) + " ETH")
	}

	return style.Render("STATS") + "\n" +
		fmt.Sprintf("Snapshots: %s (skipped %s)  │  Opportunities: %s  │  Profitable: %s  │  Simulated: %s (failed %s)\n",
			n(s.stats.Snapshots), n(s.stats.Skipped), n(s.stats.Opportunities),
			n(s.stats.Profitable), n(s.stats.Simulated), n(s.stats.SimFailed),
		) +
		fmt.Sprintf("Submitted: %s  │  Included: %s (%.1f%%)  │  Expired: %s  │  Rejected: %s  │  Realized: %s",
			n(s.stats.Submitted), n(s.stats.Included), inclusion,
			n(s.stats.Expired), n(s.stats.Rejected), realized,
		)
}
