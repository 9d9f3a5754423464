// Package monitor renders a live terminal dashboard for a single pipeline
// run. It polls the daemon's run endpoint and draws stage progress and poll
// latency until the run reaches a terminal state.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model represents the BubbleTea run watcher model
type Model struct {
	serverURL string
	runID     string
	interval  time.Duration
	client    *RunClient

	state      pipeline.RunState
	latencyMS  []float64
	fetched    bool
	lastUpdate time.Time
	err        error
	quitting   bool

	stageProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	// Footer style - bright keys on dim background
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Sparkline container
	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new run watcher model
func NewModel(serverURL, runID string, interval time.Duration) Model {
	stageProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	return Model{
		serverURL:     serverURL,
		runID:         runID,
		interval:      interval,
		client:        NewRunClient(serverURL),
		latencyMS:     make([]float64, 0, historySize),
		stageProgress: stageProg,
	}
}

// statusBadge returns a colored badge for an overall run status
func statusBadge(status pipeline.RunStatus) string {
	switch status {
	case pipeline.RunCompleted:
		return healthyStyle.Render("✓ COMPLETED")
	case pipeline.RunFailed:
		return errorStyle.Render("✗ FAILED")
	case pipeline.RunRunning:
		return warningStyle.Render("▶ RUNNING")
	default:
		return dimStyle.Render("· WAITING")
	}
}

// getLatencyBadge returns a colored status badge based on poll latency
func getLatencyBadge(latencyMS float64) string {
	if latencyMS < 100 {
		return healthyStyle.Render("[✓]")
	} else if latencyMS < 500 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type runMsg RunSnapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchRun(m.client, m.runID),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchRun polls the daemon for the run's latest state
func fetchRun(client *RunClient, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snapshot, err := client.FetchRun(ctx, runID)
		if err != nil {
			return errMsg(err)
		}
		return runMsg(snapshot)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchRun(m.client, m.runID)
		}

	case tickMsg:
		// A finished run stops polling; manual refresh still works.
		if m.fetched && m.state.Terminal() {
			return m, nil
		}
		return m, tea.Batch(
			tick(m.interval),
			fetchRun(m.client, m.runID),
		)

	case runMsg:
		snapshot := RunSnapshot(msg)
		m.state = snapshot.State
		m.latencyMS = appendToHistory(m.latencyMS, float64(snapshot.Latency.Microseconds())/1000.0)
		m.fetched = true
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render(" sdlcd Run Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach sdlcd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL:   ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Run:   ") + valueStyle.Render(m.runID) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. sdlcd is running and reachable") + "\n"
	content += dimStyle.Render("  2. the run ID exists (sdlc history <run-id>)") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the run view with stage markers, a progress bar,
// and the poll latency sparkline
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" sdlcd Run Monitor ")
	headerLine := fmt.Sprintf("%s   %s %s   %s",
		statusBadge(m.state.Status),
		dimStyle.Render("Run:"),
		valueStyle.Render(m.runID),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	if !m.fetched {
		content += "\n" + dimStyle.Render("Waiting for first poll...") + "\n"
		content += "\n" + footer(m.interval)
		return containerStyle.Render(content)
	}

	// Ticket section
	content += "\n" + sectionStyle.Render("┃ Ticket") + "\n"
	content += labelStyle.Render("  ID: ") + valueStyle.Render(m.state.Ticket.ID)
	if m.state.Ticket.Title != "" {
		content += "  " + dimStyle.Render(m.state.Ticket.Title)
	}
	content += "\n"
	content += labelStyle.Render("  Action: ") + valueStyle.Render(string(m.state.Action)) +
		"  " + labelStyle.Render("Age: ") +
		valueStyle.Render(FormatDuration(int64(time.Since(m.state.CreatedAt).Seconds()))) + "\n"

	// Stages section: expected order for the action, with recorded outcomes.
	// In a running run the first stage without a result is the one executing.
	expected := pipeline.StageSequence(m.state.Action)
	completed := 0

	var current pipeline.StageName
	if m.state.Status == pipeline.RunRunning {
		for _, name := range expected {
			if _, ok := m.state.Result(name); !ok {
				current = name
				break
			}
		}
	}

	content += "\n" + sectionStyle.Render("┃ Stages") + "\n"
	for _, name := range expected {
		result, ok := m.state.Result(name)
		if ok && result.Status == pipeline.StageCompleted {
			completed++
		}

		line := "  " + stageMarker(result, ok, name == current && current != "") +
			" " + labelStyle.Render(fmt.Sprintf("%-12s", name))
		switch {
		case ok:
			line += valueStyle.Render(string(result.Status))
			if !result.CompletedAt.IsZero() {
				line += "  " + dimStyle.Render(FormatElapsed(result.CompletedAt.Sub(result.StartedAt)))
			}
			if result.Error != "" {
				line += "  " + errorStyle.Render(result.Error)
			}
		case name == current && current != "":
			line += warningStyle.Render("running")
		default:
			line += dimStyle.Render("pending")
		}
		content += line + "\n"
	}

	// Stage progress bar
	ratio := 0.0
	if len(expected) > 0 {
		ratio = float64(completed) / float64(len(expected))
	}
	content += labelStyle.Render("  Progress: ") +
		m.stageProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d stages", completed, len(expected))) + "\n"

	// Polling section with latency sparkline
	content += "\n" + sectionStyle.Render("┃ Polling") + "\n"

	latest := 0.0
	if len(m.latencyMS) > 0 {
		latest = m.latencyMS[len(m.latencyMS)-1]
	}
	latencySparkline := createSparkline(m.latencyMS)
	content += labelStyle.Render("  Latency: ") +
		valueStyle.Render(FormatLatency(latest/1000)) +
		" " + getLatencyBadge(latest) +
		"   " + latencySparkline + "\n"

	content += "\n" + footer(m.interval)

	return containerStyle.Render(content)
}

// stageMarker returns the marker for one expected stage.
func stageMarker(result pipeline.StageResult, ok, running bool) string {
	switch {
	case ok && result.Status == pipeline.StageCompleted:
		return healthyStyle.Render("✓")
	case ok && result.Status == pipeline.StageFailed:
		return errorStyle.Render("✗")
	case running:
		return warningStyle.Render("▶")
	default:
		return dimStyle.Render("○")
	}
}

// footer renders the keyboard shortcut line
func footer(interval time.Duration) string {
	return footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", interval))
}
