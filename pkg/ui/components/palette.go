package components

import "github.com/charmbracelet/lipgloss"

// Dashboard palette shared by every panel.
var (
	ColorAccent  = lipgloss.Color("#7C3AED")
	ColorProfit  = lipgloss.Color("#10B981")
	ColorLoss    = lipgloss.Color("#EF4444")
	ColorPending = lipgloss.Color("#F59E0B")
	ColorDim     = lipgloss.Color("#6B7280")
	ColorFrame   = lipgloss.Color("#374151")
	ColorBright  = lipgloss.Color("#FFFFFF")
)
