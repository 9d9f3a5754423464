package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	assert.Equal(t, "http://localhost:9090", model.serverURL)
	assert.Equal(t, "run-1", model.runID)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.NotNil(t, model.client)
	assert.False(t, model.quitting)
	assert.False(t, model.fetched)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	cmd := model.Init()

	// Init should return a tick command to start auto-refresh
	assert.NotNil(t, cmd)
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd) // Should return tea.Quit
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return fetchRun command
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return batch command (tick + fetchRun)
}

func TestModel_Update_TickMsg_TerminalRunStopsPolling(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	model.fetched = true
	model.state = pipeline.RunState{RunID: "run-1", Status: pipeline.RunCompleted}

	_, cmd := model.Update(tickMsg(time.Now()))

	assert.Nil(t, cmd)
}

func TestModel_Update_RunMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	msg := runMsg(RunSnapshot{
		State: pipeline.RunState{
			RunID:  "run-1",
			Status: pipeline.RunRunning,
			Ticket: pipeline.Ticket{ID: "PROJ-1"},
			Action: pipeline.ActionFullPipeline,
		},
		Latency: 42 * time.Millisecond,
	})
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.Equal(t, "run-1", m.state.RunID)
	assert.Equal(t, pipeline.RunRunning, m.state.Status)
	assert.True(t, m.fetched)
	assert.False(t, m.lastUpdate.IsZero())
	assert.NoError(t, m.err)
	assert.Len(t, m.latencyMS, 1)
	assert.InDelta(t, 42.0, m.latencyMS[0], 0.001)
	assert.Nil(t, cmd)
}

func TestModel_Update_RunMsg_LatencyHistoryCapped(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	var current tea.Model = model
	for i := 0; i < historySize+5; i++ {
		msg := runMsg(RunSnapshot{
			State:   pipeline.RunState{RunID: "run-1", Status: pipeline.RunRunning},
			Latency: time.Duration(i+1) * time.Millisecond,
		})
		current, _ = current.(Model).Update(msg)
	}

	m := current.(Model)
	assert.Len(t, m.latencyMS, historySize)
	// Oldest entries are dropped first
	assert.InDelta(t, 6.0, m.latencyMS[0], 0.001)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	msg := errMsg(fmt.Errorf("connection refused"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestModel_View_WithRun(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	model.fetched = true
	model.lastUpdate = time.Now()
	model.latencyMS = []float64{12.5, 14.1, 11.9}

	start := time.Now().Add(-3 * time.Second)
	model.state = pipeline.RunState{
		RunID:  "run-1",
		Ticket: pipeline.Ticket{ID: "PROJ-9", Title: "Session tokens"},
		Action: pipeline.ActionFullPipeline,
		Status: pipeline.RunRunning,
		Results: []pipeline.StageResult{
			{Stage: pipeline.StageRequirement, Status: pipeline.StageCompleted, StartedAt: start, CompletedAt: start.Add(200 * time.Millisecond)},
			{Stage: pipeline.StageCode, Status: pipeline.StageCompleted, StartedAt: start.Add(time.Second), CompletedAt: start.Add(2 * time.Second)},
		},
		CreatedAt: start,
	}

	view := model.View()

	assert.Contains(t, view, "sdlcd Run Monitor")
	assert.Contains(t, view, "run-1")
	assert.Contains(t, view, "PROJ-9")
	assert.Contains(t, view, "requirement")
	assert.Contains(t, view, "code")
	assert.Contains(t, view, "test")
	assert.Contains(t, view, "2/3 stages")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_FailedStageShowsError(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-2", 5*time.Second)
	model.fetched = true
	model.lastUpdate = time.Now()

	start := time.Now().Add(-time.Second)
	model.state = pipeline.RunState{
		RunID:  "run-2",
		Ticket: pipeline.Ticket{ID: "PROJ-9"},
		Action: pipeline.ActionAnalyzeRequirements,
		Status: pipeline.RunFailed,
		Results: []pipeline.StageResult{
			{Stage: pipeline.StageRequirement, Status: pipeline.StageFailed, StartedAt: start, CompletedAt: start.Add(100 * time.Millisecond), Error: "provider unavailable"},
		},
		CreatedAt: start,
	}

	view := model.View()

	assert.Contains(t, view, "FAILED")
	assert.Contains(t, view, "provider unavailable")
	assert.Contains(t, view, "0/1 stages")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach sdlcd")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:9090")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)

	view := model.View()

	assert.Contains(t, view, "sdlcd Run Monitor")
	assert.Contains(t, view, "Waiting for first poll")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_Quitting(t *testing.T) {
	model := NewModel("http://localhost:9090", "run-1", 5*time.Second)
	model.quitting = true

	assert.Empty(t, model.View())
}

func TestAppendToHistory(t *testing.T) {
	history := make([]float64, 0, historySize)
	for i := 0; i < historySize; i++ {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)

	history = appendToHistory(history, 99.0)
	assert.Len(t, history, historySize)
	assert.Equal(t, 1.0, history[0])
	assert.Equal(t, 99.0, history[len(history)-1])
}
