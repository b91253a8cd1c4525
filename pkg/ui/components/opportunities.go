// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// OpportunityRow is one analyzed opportunity in the list.
type OpportunityRow struct {
	Time       string
	Block      uint64
	Strategy   string
	Route      string
	Net        decimal.Decimal
	ROIPercent decimal.Decimal
	Profitable bool
	Status     string
}

// OpportunitiesComponent renders the analyzed opportunities, newest first.
type OpportunitiesComponent struct {
	rows    []OpportunityRow
	maxRows int
	visible int
	offset  int
}

// NewOpportunitiesComponent keeps up to maxRows rows and shows visible at a time.
func NewOpportunitiesComponent(maxRows, visible int) *OpportunitiesComponent {
	return &OpportunitiesComponent{
		rows:    make([]OpportunityRow, 0, maxRows),
		maxRows: maxRows,
		visible: visible,
	}
}

// Add prepends row, dropping the oldest beyond maxRows.
func (o *OpportunitiesComponent) Add(row OpportunityRow) {
	o.rows = append([]OpportunityRow{row}, o.rows...)
	if len(o.rows) > o.maxRows {
		o.rows = o.rows[:o.maxRows]
	}
}

// SetStatus updates the status of the newest row on route.
func (o *OpportunitiesComponent) SetStatus(route, status string) {
	for i := range o.rows {
		if o.rows[i].Route == route {
			o.rows[i].Status = status
			return
		}
	}
}

// Len returns the number of stored rows.
func (o *OpportunitiesComponent) Len() int { return len(o.rows) }

// Clear clears all opportunities.
func (o *OpportunitiesComponent) Clear() {
	o.rows = o.rows[:0]
	o.offset = 0
}

func (o *OpportunitiesComponent) ScrollUp() {
	if o.offset > 0 {
		o.offset--
	}
}

func (o *OpportunitiesComponent) ScrollDown() {
	if o.offset < len(o.rows)-o.visible {
		o.offset++
	}
}

// View renders the opportunities component.
func (o *OpportunitiesComponent) View() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	if len(o.rows) == 0 {
		return headerStyle.Render("OPPORTUNITIES") + "\n\nNo opportunities detected yet..."
	}

	profitableStyle := lipgloss.NewStyle().Foreground(ColorProfit)
	unprofitableStyle := lipgloss.NewStyle().Foreground(ColorLoss)
	dimStyle := lipgloss.NewStyle().Foreground(ColorDim)

	end := min(o.offset+o.visible, len(o.rows))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("OPPORTUNITIES (%d-%d of %d)", o.offset+1, end, len(o.rows))))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  %-8s %-9s %-22s %-32s %11s %8s  %s\n",
		"Time", "Block", "Strategy", "Route", "Net (ETH)", "ROI", "Status"))
	sb.WriteString(dimStyle.Render("  "+strings.Repeat("─", 104)) + "\n")

	for _, row := range o.rows[o.offset:end] {
		style, icon := profitableStyle, "✓"
		if !row.Profitable {
			style, icon = unprofitableStyle, "✗"
		}
		sb.WriteString(fmt.Sprintf("  %-8s %-9d %-22s %-32s %11s %7s%%  %s %s\n",
			row.Time,
			row.Block,
			row.Strategy,
			truncate(row.Route, 32),
			row.Net.StringFixed(5),
			row.ROIPercent.StringFixed(2),
			icon,
			style.Render(row.Status),
		))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
