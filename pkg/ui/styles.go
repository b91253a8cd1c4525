package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fd1az/arbitrage-pipeline/pkg/ui/components"
)

var (
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(components.ColorFrame).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(components.ColorBright).
			Background(components.ColorAccent).
			Padding(0, 2)

	// ActiveStyle marks the live search indicator.
	ActiveStyle = lipgloss.NewStyle().
			Foreground(components.ColorProfit).
			Bold(true)

	MutedValue = lipgloss.NewStyle().Foreground(components.ColorDim)

	HelpStyle = MutedValue.Padding(0, 1)
)
