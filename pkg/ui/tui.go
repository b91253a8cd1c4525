package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage/domain"
	"github.com/fd1az/arbitrage-pipeline/pkg/ui/components"
)

// StartupStep represents a step in the startup process.
type StartupStep struct {
	Name   string
	Status string // "pending", "connecting", "connected", "failed", "done"
}

// Phase represents the current UI phase.
type Phase string

const (
	PhaseWelcome   Phase = "welcome"
	PhaseStartup   Phase = "startup"
	PhaseDashboard Phase = "dashboard"
)

// WelcomeDuration is how long the welcome screen shows before auto-advancing.
const WelcomeDuration = 2 * time.Second

var startupOrder = []string{"config", "ethereum", "market", "relays", "pipeline"}

// ErrorEntry represents an error with timestamp.
type ErrorEntry struct {
	Message   string
	Timestamp time.Time
}

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	market        *components.MarketComponent
	opportunities *components.OpportunitiesComponent
	stats         *components.StatsComponent
	status        *components.StatusComponent
	keys          KeyMap

	phase        Phase
	welcomeStart time.Time

	quitting     bool
	paused       bool
	width        int
	height       int
	currentBlock uint64
	lastUpdate   time.Time
	lastPass     time.Time
	errors       []ErrorEntry
	logs         []string
	activityFeed []string

	startupComplete bool
	startupSteps    map[string]*StartupStep
	startupTime     time.Time
}

// New creates a new TUI model.
func New() Model {
	now := time.Now()
	return Model{
		market:        components.NewMarketComponent(),
		opportunities: components.NewOpportunitiesComponent(200, 10),
		stats:         components.NewStatsComponent(),
		status:        components.NewStatusComponent(),
		keys:          DefaultKeyMap(),
		phase:         PhaseWelcome,
		welcomeStart:  now,
		errors:        make([]ErrorEntry, 0, 3),
		logs:          make([]string, 0, 5),
		activityFeed:  make([]string, 0, 8),
		startupSteps: map[string]*StartupStep{
			"config":   {Name: "Loading configuration", Status: "pending"},
			"ethereum": {Name: "Connecting to Ethereum", Status: "pending"},
			"market":   {Name: "Loading pools", Status: "pending"},
			"relays":   {Name: "Registering relays", Status: "pending"},
			"pipeline": {Name: "Starting pipeline", Status: "pending"},
		},
		startupTime: now,
	}
}

// Init initializes the TUI model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// tickCmd returns a command that sends a tick every 100ms for animations.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m *Model) startModules() {
	m.phase = PhaseStartup
	m.startupTime = time.Now()
	// Called directly; Send must not be used from inside Update.
	if OnStartModules != nil {
		go OnStartModules()
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if m.phase == PhaseWelcome {
			m.startModules()
			return m, tickCmd()
		}
		switch {
		case key.Matches(msg, m.keys.Clear):
			m.opportunities.Clear()
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Up):
			m.opportunities.ScrollUp()
		case key.Matches(msg, m.keys.Down):
			m.opportunities.ScrollDown()
		case key.Matches(msg, m.keys.Errors):
			m.errors = m.errors[:0]
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.phase == PhaseWelcome && time.Since(m.welcomeStart) >= WelcomeDuration {
			m.startModules()
		}
		return m, tickCmd()

	case EventMsg:
		m.apply(msg.Event)
		m.lastUpdate = time.Now()

	case ConnectionStatusMsg:
		m.status.Update(components.ConnectionStatus{
			Name:       msg.Name,
			Connected:  msg.Connected,
			Latency:    msg.Latency,
			Degraded:   msg.Degraded,
			LastUpdate: time.Now(),
		})
		m.lastUpdate = time.Now()

	case RelayStatsMsg:
		for _, st := range msg.Stats {
			m.status.SetRelay(components.RelayFigures{
				Name:      st.Relay,
				Submitted: st.Submitted,
				Accepted:  st.Accepted,
				Latency:   st.Latency,
			})
		}

	case ErrorMsg:
		m.logs = addLog(m.logs, "error", msg.Error.Error())
		m.pushError(msg.Error.Error())

	case LogMsg:
		m.logs = addLog(m.logs, msg.Level, msg.Message)

	case StartupMsg:
		if step, ok := m.startupSteps[msg.Step]; ok {
			step.Status = msg.Status
		}
		if msg.Status == "failed" && msg.Message != "" {
			m.pushError(msg.Step + ": " + msg.Message)
		}
		m.startupComplete = true
		for _, step := range m.startupSteps {
			if step.Status != "connected" && step.Status != "done" {
				m.startupComplete = false
				break
			}
		}
	}

	return m, nil
}

// apply folds one pipeline event into the dashboard state.
func (m *Model) apply(ev domain.Event) {
	st := m.stats.Stats()
	defer func() { m.stats.Update(st) }()

	switch ev.Kind {
	case domain.EventSnapshot:
		st.Snapshots++
		m.currentBlock = ev.Block
		m.lastPass = time.Now()
		m.market.SetBlock(ev.Block, ev.GasPriceGwei)
		m.activity(fmt.Sprintf("Block #%d  gas %s gwei", ev.Block, ev.GasPriceGwei.StringFixed(1)))

	case domain.EventPassSkipped:
		st.Skipped++
		m.market.SetSkipped(ev.Reason)
		m.activity(fmt.Sprintf("Block #%d skipped: %s", ev.Block, ev.Reason))

	case domain.EventOpportunityFound:
		st.Opportunities++

	case domain.EventProfitAnalyzed:
		status := "profitable"
		if ev.Profitable {
			st.Profitable++
		} else {
			status = ev.Reason
		}
		m.opportunities.Add(components.OpportunityRow{
			Time:       ev.At.Format("15:04:05"),
			Block:      ev.Block,
			Strategy:   string(ev.Strategy),
			Route:      ev.Route,
			Net:        ev.NetProfit,
			ROIPercent: ev.ROIPercent,
			Profitable: ev.Profitable,
			Status:     status,
		})
		m.market.SetBreakdown(components.Breakdown{
			Route:        ev.Route,
			Strategy:     string(ev.Strategy),
			GasPriceGwei: ev.GasPriceGwei,
			Gross:        ev.GrossProfit,
			GasCost:      ev.GasCost,
			Net:          ev.NetProfit,
			ROIPercent:   ev.ROIPercent,
			Profitable:   ev.Profitable,
			Reason:       ev.Reason,
		})

	case domain.EventBundleSimulated:
		st.Simulated++
		line := "simulated ok"
		if !ev.Success {
			st.SimFailed++
			line = "simulation failed: " + ev.Reason
		}
		m.opportunities.SetStatus(ev.Route, line)
		m.market.SetResult(line)
		m.activity(fmt.Sprintf("%s %s", ev.Route, line))

	case domain.EventSubmission:
		switch ev.State {
		case "pending":
			st.Submitted++
		case "included":
			st.Included++
			st.Realized = st.Realized.Add(ev.NetProfit)
		case "expired":
			st.Expired++
		case "rejected":
			st.Submitted++
			st.Rejected++
		}
		line := "bundle " + ev.State
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		if ev.State == "included" {
			line += " realized " + ev.NetProfit.StringFixed(5) + " ETH"
		}
		m.opportunities.SetStatus(ev.Route, "bundle "+ev.State)
		m.market.SetResult(line)
		m.activity(fmt.Sprintf("%s %s", ev.Route, line))

	case domain.EventBreakerTripped:
		m.status.SetBreaker(true, ev.Reason)
		m.pushError("circuit breaker tripped: " + ev.Reason + " " + ev.Detail)

	case domain.EventBreakerReset:
		m.status.SetBreaker(false, "")
		m.activity("circuit breaker reset")
	}
}

func (m *Model) pushError(msg string) {
	m.errors = append(m.errors, ErrorEntry{Message: msg, Timestamp: time.Now()})
	if len(m.errors) > 3 {
		m.errors = m.errors[len(m.errors)-3:]
	}
}

func (m *Model) activity(line string) {
	if m.paused {
		return
	}
	m.activityFeed = addActivity(m.activityFeed, line)
}

// addLog adds a log message and returns the updated slice (keeps last 5).
func addLog(logs []string, level, message string) []string {
	line := fmt.Sprintf("[%s] %s: %s", time.Now().Format("15:04:05"), level, message)
	logs = append(logs, line)
	if len(logs) > 5 {
		logs = logs[len(logs)-5:]
	}
	return logs
}

// addActivity adds an activity message and returns the updated slice (keeps last 6).
func addActivity(feed []string, message string) []string {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), message)
	feed = append(feed, line)
	if len(feed) > 6 {
		feed = feed[len(feed)-6:]
	}
	return feed
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "\n  Goodbye!\n\n"
	}

	switch m.phase {
	case PhaseWelcome:
		return m.renderWelcomeScreen()
	case PhaseStartup:
		if m.currentBlock == 0 && !m.startupComplete {
			return m.renderStartupScreen()
		}
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(" ⛓  Atomic Arbitrage Pipeline "))
	b.WriteString("\n\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n\n")

	left := m.market.View()
	right := m.renderActivityFeed()
	if m.width > 100 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			BoxStyle.Width(m.width/2-2).Render(left),
			BoxStyle.Width(m.width/2-2).Render(right),
		))
	} else {
		b.WriteString(BoxStyle.Width(max(m.width-4, 40)).Render(left))
		b.WriteString("\n")
		b.WriteString(BoxStyle.Width(max(m.width-4, 40)).Render(right))
	}
	b.WriteString("\n")
	b.WriteString(BoxStyle.Width(max(m.width-4, 40)).Render(m.opportunities.View()))
	b.WriteString("\n")
	b.WriteString(m.stats.View())
	b.WriteString("\n\n")

	if len(m.errors) > 0 {
		errorStyle := lipgloss.NewStyle().Foreground(components.ColorLoss)
		errorHeader := lipgloss.NewStyle().Bold(true).Foreground(components.ColorLoss)

		b.WriteString(errorHeader.Render("ERRORS"))
		b.WriteString(MutedValue.Render(" (e: clear)"))
		b.WriteString("\n")
		for _, err := range m.errors {
			ago := time.Since(err.Timestamp).Round(time.Second)
			b.WriteString(errorStyle.Render(fmt.Sprintf("  • %s ", err.Message)))
			b.WriteString(MutedValue.Render(fmt.Sprintf("(%s ago)", ago)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.paused {
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(components.ColorPending).Render("⏸ FEED PAUSED"))
		b.WriteString(" • ")
	}
	b.WriteString(HelpStyle.Render(helpLine(m.keys.ShortHelp())))
	return b.String()
}

func (m Model) renderActivityFeed() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(components.ColorAccent)
	blockStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("LIVE ACTIVITY"))
	sb.WriteString("\n\n")

	if len(m.activityFeed) == 0 {
		sb.WriteString(MutedValue.Render("  Waiting for blocks..."))
		return sb.String()
	}
	for _, line := range m.activityFeed {
		if strings.Contains(line, "Block #") {
			sb.WriteString(blockStyle.Render("  " + line))
		} else {
			sb.WriteString(MutedValue.Render("  " + line))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderWelcomeScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(components.ColorAccent)
	greenStyle := lipgloss.NewStyle().Foreground(components.ColorProfit)

	dots := strings.Repeat(".", int(time.Since(m.welcomeStart).Milliseconds()/300)%4)

	var sb strings.Builder
	sb.WriteString("\n\n\n\n")
	sb.WriteString(titleStyle.Render(`
     █████╗ ████████╗ ██████╗ ███╗   ███╗██╗ ██████╗
    ██╔══██╗╚══██╔══╝██╔═══██╗████╗ ████║██║██╔════╝
    ███████║   ██║   ██║   ██║██╔████╔██║██║██║
    ██╔══██║   ██║   ██║   ██║██║╚██╔╝██║██║██║
    ██║  ██║   ██║   ╚██████╔╝██║ ╚═╝ ██║██║╚██████╗
    ╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═╝     ╚═╝╚═╝ ╚═════╝
`))
	sb.WriteString("\n")
	sb.WriteString(MutedValue.Render("            A R B I T R A G E   P I P E L I N E"))
	sb.WriteString("\n\n\n")
	sb.WriteString(greenStyle.Render(fmt.Sprintf("                  Initializing%s", dots)))
	sb.WriteString("\n\n")
	sb.WriteString(MutedValue.Render("            Press any key to skip, or wait..."))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderStartupScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(components.ColorAccent).MarginBottom(1)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	successStyle := lipgloss.NewStyle().Foreground(components.ColorProfit)
	connectingStyle := lipgloss.NewStyle().Foreground(components.ColorPending)
	failedStyle := lipgloss.NewStyle().Foreground(components.ColorLoss)

	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(titleStyle.Render("  ⛓  Atomic Arbitrage Pipeline"))
	sb.WriteString("\n\n")
	sb.WriteString(headerStyle.Render("  Starting up..."))
	sb.WriteString("\n\n")

	for _, k := range startupOrder {
		step, ok := m.startupSteps[k]
		if !ok {
			continue
		}

		var icon, text string
		style := MutedValue
		switch step.Status {
		case "connected", "done":
			icon, text, style = "✓", "Ready", successStyle
		case "connecting":
			spinners := []string{"◐", "◓", "◑", "◒"}
			icon = spinners[int(time.Since(m.startupTime).Milliseconds()/200)%len(spinners)]
			text, style = "Connecting...", connectingStyle
		case "failed":
			icon, text, style = "✗", "Failed", failedStyle
		default:
			icon, text = "○", "Pending"
		}
		sb.WriteString(fmt.Sprintf("  %s %s %s\n", style.Render(icon), MutedValue.Render(step.Name), style.Render(text)))
	}

	sb.WriteString("\n")
	sb.WriteString(MutedValue.Render(fmt.Sprintf("  Elapsed: %s", time.Since(m.startupTime).Round(time.Second))))
	sb.WriteString("\n\n")
	sb.WriteString(MutedValue.Render("  Waiting for first snapshot..."))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderStatusBar() string {
	var parts []string

	if time.Since(m.lastPass) < 500*time.Millisecond {
		spinners := []string{"⟳", "◐", "◓", "◑", "◒"}
		idx := int(time.Now().UnixMilli()/100) % len(spinners)
		parts = append(parts, ActiveStyle.Render(spinners[idx]+" Searching"))
	}
	parts = append(parts, fmt.Sprintf("Block: #%d", m.currentBlock))
	parts = append(parts, m.status.View())

	if !m.lastUpdate.IsZero() {
		parts = append(parts, MutedValue.Render(fmt.Sprintf("Updated: %s ago", time.Since(m.lastUpdate).Round(time.Second))))
	}
	return strings.Join(parts, "  │  ")
}

// Program holds the Bubble Tea program instance for external access.
var Program *tea.Program

// OnStartModules is called when the welcome screen completes and modules should start.
var OnStartModules func()

// Run starts the Bubble Tea program.
func Run() error {
	Program = tea.NewProgram(New(), tea.WithAltScreen())
	_, err := Program.Run()
	return err
}

// Send sends a message to the running program.
func Send(msg tea.Msg) {
	if Program != nil {
		Program.Send(msg)
	}
	if _, ok := msg.(StartModulesMsg); ok && OnStartModules != nil {
		OnStartModules()
	}
}

