package infra

import (
	"context"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	"github.com/fd1az/arbitrage-pipeline/pkg/ui"
)

// TUIReporter forwards events to the running Bubble Tea program. The program
// itself is owned by main.
type TUIReporter struct {
	send func(msg any)
}

// NewTUIReporter creates a TUIReporter that sends to ui.Program.
func NewTUIReporter() *TUIReporter {
	return &TUIReporter{send: func(msg any) { ui.Send(msg) }}
}

// Start marks the pipeline stage ready on the startup screen.
func (r *TUIReporter) Start(ctx context.Context) error {
	r.send(ui.StartupMsg{Step: "pipeline", Status: "done"})
	return nil
}

// Report sends ev to the dashboard.
func (r *TUIReporter) Report(ev domain.Event) {
	r.send(ui.EventMsg{Event: ev})
}

// Stop is a no-op; quitting the program stops the TUI.
func (r *TUIReporter) Stop() error {
	return nil
}
