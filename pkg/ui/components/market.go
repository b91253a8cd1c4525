package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// Breakdown is the economics of the latest analyzed opportunity, as computed
// by the profit evaluator.
type Breakdown struct {
	Route        string
	Strategy     string
	GasPriceGwei decimal.Decimal
	Gross        decimal.Decimal
	GasCost      decimal.Decimal
	Net          decimal.Decimal
	ROIPercent   decimal.Decimal
	Profitable   bool
	Reason       string
}

// MarketComponent renders the per-block market view.
type MarketComponent struct {
	block      uint64
	gasGwei    decimal.Decimal
	lastSkip   string
	breakdown  *Breakdown
	lastResult string
}

// NewMarketComponent creates a new market component.
func NewMarketComponent() *MarketComponent {
	return &MarketComponent{}
}

// SetBlock records the latest snapshot.
func (m *MarketComponent) SetBlock(block uint64, gasGwei decimal.Decimal) {
	m.block = block
	m.gasGwei = gasGwei
	m.lastSkip = ""
}

// SetSkipped records why the latest pass did not search.
func (m *MarketComponent) SetSkipped(reason string) { m.lastSkip = reason }

// SetBreakdown replaces the displayed analysis.
func (m *MarketComponent) SetBreakdown(b Breakdown) { m.breakdown = &b }

// SetResult records the latest simulation or submission outcome line.
func (m *MarketComponent) SetResult(line string) { m.lastResult = line }

// View renders the market component.
func (m *MarketComponent) View() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	positiveStyle := lipgloss.NewStyle().Foreground(ColorProfit)
	negativeStyle := lipgloss.NewStyle().Foreground(ColorLoss)
	dimStyle := lipgloss.NewStyle().Foreground(ColorDim)
	warnStyle := lipgloss.NewStyle().Foreground(ColorPending)

	if m.block == 0 {
		return headerStyle.Render("MARKET") + "\n\n" + dimStyle.Render("Waiting for the first snapshot...")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("MARKET (block #%d)", m.block)))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  Gas: %s gwei\n", m.gasGwei.StringFixed(2)))
	if m.lastSkip != "" {
		sb.WriteString(warnStyle.Render("  Pass skipped: "+m.lastSkip) + "\n")
	}
	sb.WriteString(dimStyle.Render("  "+strings.Repeat("─", 48)) + "\n")

	b := m.breakdown
	if b == nil {
		sb.WriteString(dimStyle.Render("  Waiting for profit analysis...") + "\n")
		return sb.String()
	}

	if b.Profitable {
		sb.WriteString(headerStyle.Render("  OPPORTUNITY FOUND") + "\n\n")
	} else {
		sb.WriteString(headerStyle.Render("  WHY NO TRADE?") + "\n\n")
	}
	sb.WriteString(fmt.Sprintf("  Route:        %s\n", dimStyle.Render(b.Route)))
	sb.WriteString(fmt.Sprintf("  Strategy:     %s\n", dimStyle.Render(b.Strategy)))
	sb.WriteString(fmt.Sprintf("  Gas price:    %s\n", dimStyle.Render(b.GasPriceGwei.StringFixed(2)+" gwei")))
	sb.WriteString(fmt.Sprintf("  Gross:        %s\n", warnStyle.Render(b.Gross.StringFixed(6)+" ETH")))
	sb.WriteString(fmt.Sprintf("  Gas cost:     %s\n", negativeStyle.Render("-"+b.GasCost.StringFixed(6)+" ETH")))

	netStyle := positiveStyle
	if !b.Net.IsPositive() || !b.Profitable {
		netStyle = negativeStyle
	}
	sb.WriteString(fmt.Sprintf("  Net:          %s (%s%%)\n", netStyle.Render(b.Net.StringFixed(6)+" ETH"), b.ROIPercent.StringFixed(3)))
	if b.Reason != "" {
		sb.WriteString(fmt.Sprintf("  Rejected:     %s\n", negativeStyle.Render(b.Reason)))
	}
	if m.lastResult != "" {
		sb.WriteString("\n  " + m.lastResult + "\n")
	}
	return sb.String()
}
