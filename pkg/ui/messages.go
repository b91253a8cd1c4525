// Package ui provides the Bubble Tea TUI for the arbitrage pipeline.
package ui

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	submission "github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

// EventMsg carries one pipeline event to the dashboard.
type EventMsg struct {
	Event domain.Event
}

// ConnectionStatusMsg is sent when a node or relay connection changes.
type ConnectionStatusMsg struct {
	Name      string
	Connected bool
	Latency   time.Duration
	Degraded  string
}

// RelayStatsMsg carries per-relay submission counters.
type RelayStatsMsg struct {
	Stats []submission.RelayStats
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// TickMsg is sent periodically for UI updates.
type TickMsg struct{}

// StartModulesMsg signals that modules should start loading.
type StartModulesMsg struct{}

// LogMsg is sent to display a log message in the UI.
type LogMsg struct {
	Level   string // "info", "warn", "error"
	Message string
}

// LogWriter turns JSON log records into LogMsgs for the running program.
type LogWriter struct{}

func (LogWriter) Write(p []byte) (int, error) {
	if msg, ok := parseLogRecord(p); ok {
		Send(msg)
	}
	return len(p), nil
}

func parseLogRecord(p []byte) (LogMsg, bool) {
	var rec struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(p, &rec); err != nil || rec.Msg == "" {
		return LogMsg{}, false
	}
	msg := rec.Msg
	if rec.Error != "" {
		msg += ": " + rec.Error
	}
	return LogMsg{Level: strings.ToLower(rec.Level), Message: msg}, true
}

// StartupMsg is sent during application startup to show progress.
type StartupMsg struct {
	Step    string // config, ethereum, market, relays, pipeline
	Status  string // "connecting", "connected", "failed", "done"
	Message string
}
