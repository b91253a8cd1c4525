// Package infra contains infrastructure adapters for the arbitrage context.
package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
)

// ConsoleReporter implements Reporter for CLI output. Without verbose it
// prints only profitable analyses, bundle results and breaker changes.
type ConsoleReporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsoleReporter creates a ConsoleReporter writing to stdout.
func NewConsoleReporter(verbose bool) *ConsoleReporter {
	return NewConsoleReporterTo(os.Stdout, verbose)
}

// NewConsoleReporterTo creates a ConsoleReporter writing to out.
func NewConsoleReporterTo(out io.Writer, verbose bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, verbose: verbose}
}

// Start initializes the console reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "Arbitrage Pipeline Started")
	fmt.Fprintln(r.out, "==========================")
	return nil
}

// Report writes one event line.
func (r *ConsoleReporter) Report(ev domain.Event) {
	if !r.verbose && !notable(ev) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts := ev.At.Format(time.TimeOnly)
	switch ev.Kind {
	case domain.EventSnapshot:
		fmt.Fprintf(r.out, "[%s] block #%d  gas %s gwei\n", ts, ev.Block, ev.GasPriceGwei.StringFixed(2))
	case domain.EventPassSkipped:
		fmt.Fprintf(r.out, "[%s] block #%d  skipped: %s\n", ts, ev.Block, ev.Reason)
	case domain.EventOpportunityFound:
		fmt.Fprintf(r.out, "[%s] found     %-22s %s  gross %s\n", ts, ev.Strategy, ev.Route, ev.GrossProfit.StringFixed(6))
	case domain.EventProfitAnalyzed:
		verdict := "PROFITABLE"
		if !ev.Profitable {
			verdict = "rejected: " + ev.Reason
		}
		fmt.Fprintf(r.out, "[%s] analyzed  %-22s %s  net %s ETH  roi %s%%  gas %s gwei  %s\n",
			ts, ev.Strategy, ev.Route, ev.NetProfit.StringFixed(6), ev.ROIPercent.StringFixed(3),
			ev.GasPriceGwei.StringFixed(2), verdict)
	case domain.EventBundleSimulated:
		verdict := "ok"
		if !ev.Success {
			verdict = "FAILED " + ev.Reason
			if ev.Detail != "" {
				verdict += ": " + ev.Detail
			}
		}
		fmt.Fprintf(r.out, "[%s] simulated %s  bundle %s  net %s ETH  %s\n",
			ts, ev.Route, ev.BundleID, ev.NetProfit.StringFixed(6), verdict)
	case domain.EventSubmission:
		line := fmt.Sprintf("[%s] bundle    %s  %s  target #%d", ts, ev.BundleID, ev.State, ev.Block)
		if ev.Reason != "" {
			line += "  (" + ev.Reason + ")"
		}
		if ev.State == "included" {
			line += fmt.Sprintf("  realized %s ETH  gas %s ETH", ev.NetProfit.StringFixed(6), ev.GasCost.StringFixed(6))
		}
		fmt.Fprintln(r.out, line)
	case domain.EventBreakerTripped:
		fmt.Fprintf(r.out, "[%s] !!! CIRCUIT BREAKER TRIPPED: %s %s\n", ts, ev.Reason, ev.Detail)
	case domain.EventBreakerReset:
		fmt.Fprintf(r.out, "[%s] circuit breaker reset\n", ts)
	}
}

func notable(ev domain.Event) bool {
	switch ev.Kind {
	case domain.EventProfitAnalyzed:
		return ev.Profitable
	case domain.EventBundleSimulated, domain.EventSubmission, domain.EventBreakerTripped, domain.EventBreakerReset:
		return true
	}
	return false
}

// Stop gracefully shuts down the console reporter.
func (r *ConsoleReporter) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "Arbitrage Pipeline Stopped")
	return nil
}
