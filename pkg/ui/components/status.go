package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// ConnectionStatus represents a connection's status.
type ConnectionStatus struct {
	Name      string
	Connected bool
	Latency   time.Duration
	// Degraded names a fallback transport in use, e.g. "http".
	Degraded   string
	LastUpdate time.Time
}

// RelayFigures summarizes one relay's submission history.
type RelayFigures struct {
	Name      string
	Submitted int
	Accepted  int
	Latency   time.Duration
}

// StatusComponent renders connection and circuit breaker status.
type StatusComponent struct {
	connections []ConnectionStatus
	relays      map[string]RelayFigures

	tripped    bool
	tripReason string
}

// NewStatusComponent creates a new status component.
func NewStatusComponent() *StatusComponent {
	return &StatusComponent{
		connections: make([]ConnectionStatus, 0),
		relays:      make(map[string]RelayFigures),
	}
}

// Update updates a connection's status.
func (s *StatusComponent) Update(status ConnectionStatus) {
	for i, conn := range s.connections {
		if conn.Name == status.Name {
			s.connections[i] = status
			return
		}
	}
	s.connections = append(s.connections, status)
}

// SetRelay records the latest figures for a relay.
func (s *StatusComponent) SetRelay(f RelayFigures) {
	s.relays[f.Name] = f
}

// SetBreaker records the risk breaker state.
func (s *StatusComponent) SetBreaker(tripped bool, reason string) {
	s.tripped = tripped
	s.tripReason = reason
}

// Tripped reports whether the breaker was last seen tripped.
func (s *StatusComponent) Tripped() bool { return s.tripped }

// View renders the status line.
func (s *StatusComponent) View() string {
	connected := lipgloss.NewStyle().Foreground(ColorProfit).Bold(true)
	degraded := lipgloss.NewStyle().Foreground(ColorPending).Bold(true)
	down := lipgloss.NewStyle().Foreground(ColorLoss).Bold(true)

	parts := make([]string, 0, len(s.connections)+1)
	for _, conn := range s.connections {
		if !conn.Connected {
			parts = append(parts, down.Render("○ "+conn.Name+" (down)"))
			continue
		}
		label := "● " + conn.Name
		if conn.Degraded != "" {
			label += " (" + conn.Degraded + ")"
		}
		if conn.Latency > 0 {
			label += fmt.Sprintf(" (%dms)", conn.Latency.Milliseconds())
		}
		if f, ok := s.relays[conn.Name]; ok && f.Submitted > 0 {
			label += fmt.Sprintf(" %d/%d ok ~%dms", f.Accepted, f.Submitted, f.Latency.Milliseconds())
		}
		if conn.Degraded != "" {
			parts = append(parts, degraded.Render(label))
			continue
		}
		parts = append(parts, connected.Render(label))
	}

	if s.tripped {
		parts = append(parts, down.Render("■ BREAKER TRIPPED: "+s.tripReason))
	} else {
		parts = append(parts, connected.Render("● breaker armed"))
	}
	return strings.Join(parts, "  │  ")
}
