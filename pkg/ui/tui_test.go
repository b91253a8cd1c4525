package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

func feed(m Model, events ...domain.Event) Model {
	for _, ev := range events {
		next, _ := m.Update(EventMsg{Event: ev})
		m = next.(Model)
	}
	return m
}

func TestModel_AppliesPipelineEvents(t *testing.T) {
	now := time.Now()
	m := feed(New(),
		domain.Event{Kind: domain.EventSnapshot, At: now, Block: 100, GasPriceGwei: decimal.NewFromInt(40)},
		domain.Event{Kind: domain.EventOpportunityFound, At: now, Block: 100, Route: "WETH -> USDC -> WETH"},
		domain.Event{Kind: domain.EventProfitAnalyzed, At: now, Block: 100, Route: "WETH -> USDC -> WETH",
			Profitable: true, NetProfit: decimal.RequireFromString("0.0476")},
		domain.Event{Kind: domain.EventBundleSimulated, At: now, Block: 100, Route: "WETH -> USDC -> WETH", Success: true},
		domain.Event{Kind: domain.EventSubmission, At: now, Block: 101, Route: "WETH -> USDC -> WETH", State: "pending"},
		domain.Event{Kind: domain.EventSubmission, At: now, Block: 101, Route: "WETH -> USDC -> WETH", State: "included",
			NetProfit: decimal.RequireFromString("0.0470")},
		domain.Event{Kind: domain.EventSnapshot, At: now, Block: 101},
		domain.Event{Kind: domain.EventPassSkipped, At: now, Block: 101, Reason: "gas_too_high"},
	)

	st := m.stats.Stats()
	if st.Snapshots != 2 || st.Skipped != 1 || st.Opportunities != 1 || st.Profitable != 1 {
		t.Errorf("detection stats = %+v", st)
	}
	if st.Simulated != 1 || st.Submitted != 1 || st.Included != 1 || !st.Realized.Equal(decimal.RequireFromString("0.047")) {
		t.Errorf("execution stats = %+v", st)
	}
	if m.currentBlock != 101 {
		t.Errorf("block = %d", m.currentBlock)
	}
	if m.opportunities.Len() != 1 {
		t.Errorf("rows = %d", m.opportunities.Len())
	}
}

func TestModel_BreakerEvents(t *testing.T) {
	m := feed(New(), domain.Event{Kind: domain.EventBreakerTripped, Reason: "daily_loss_exceeded"})
	if !m.status.Tripped() || len(m.errors) != 1 {
		t.Fatalf("tripped = %v, errors = %d", m.status.Tripped(), len(m.errors))
	}
	if !strings.Contains(m.status.View(), "daily_loss_exceeded") {
		t.Errorf("status = %q", m.status.View())
	}

	m = feed(m, domain.Event{Kind: domain.EventBreakerReset})
	if m.status.Tripped() {
		t.Error("breaker still shown tripped after reset")
	}
}

func TestModel_Keys(t *testing.T) {
	m := New()
	m.phase = PhaseDashboard
	m = feed(m, domain.Event{Kind: domain.EventProfitAnalyzed, Route: "a"})

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	m = next.(Model)
	if m.opportunities.Len() != 0 {
		t.Error("clear key did not clear opportunities")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if !next.(Model).paused {
		t.Error("pause key did not pause")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("quit key returned no command")
	}
}

func TestParseLogRecord(t *testing.T) {
	tests := []struct {
		name string
		line string
		want LogMsg
		ok   bool
	}{
		{
			name: "warning with error",
			line: `{"time":"2026-01-01T00:00:00Z","level":"WARN","msg":"ws head stream lost","error":"EOF","service":"arb"}`,
			want: LogMsg{Level: "warn", Message: "ws head stream lost: EOF"},
			ok:   true,
		},
		{
			name: "plain error",
			line: `{"level":"ERROR","msg":"bundle submission failed"}`,
			want: LogMsg{Level: "error", Message: "bundle submission failed"},
			ok:   true,
		},
		{name: "not json", line: "panic: boom", ok: false},
		{name: "no message", line: `{"level":"WARN"}`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLogRecord([]byte(tt.line))
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseLogRecord = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestModel_LogPanelKeepsRecentLines(t *testing.T) {
	m := New()
	for i := range 7 {
		next, _ := m.Update(LogMsg{Level: "warn", Message: strings.Repeat("x", i+1)})
		m = next.(Model)
	}
	if len(m.logs) != 5 || !strings.HasSuffix(m.logs[4], "warn: xxxxxxx") {
		t.Errorf("logs = %v", m.logs)
	}
}

func TestModel_ConnectionFallbackKeepsOneRow(t *testing.T) {
	m := New()
	for _, msg := range []ConnectionStatusMsg{
		{Name: "ethereum", Connected: true},
		{Name: "ethereum", Connected: true, Degraded: "http"},
	} {
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	view := m.status.View()
	if strings.Count(view, "ethereum") != 1 || !strings.Contains(view, "ethereum (http)") {
		t.Errorf("status = %q", view)
	}
}

func TestModel_RelayStatsOnConnectionRow(t *testing.T) {
	m := New()
	for _, msg := range []tea.Msg{
		ConnectionStatusMsg{Name: "flashbots", Connected: true},
		ConnectionStatusMsg{Name: "beaver", Connected: true},
		RelayStatsMsg{Stats: []submission.RelayStats{
			{Relay: "flashbots", Submitted: 5, Accepted: 4, Latency: 120 * time.Millisecond},
			{Relay: "beaver"},
		}},
	} {
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	view := m.status.View()
	if !strings.Contains(view, "flashbots 4/5 ok ~120ms") {
		t.Errorf("status = %q", view)
	}
	if strings.Contains(view, "beaver 0/0") {
		t.Errorf("idle relay shows figures: %q", view)
	}
}
