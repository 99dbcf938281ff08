package tui

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/lifecycle"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func transition(agent string, from, to lifecycle.State, reason string) events.AgentTransitionEvent {
	return events.AgentTransitionEvent{
		AgentID:    agent,
		Transition: lifecycle.Transition{From: from, To: to, Reason: reason, At: t0},
	}
}

func TestAgentPane_TracksTransitions(t *testing.T) {
	m := NewAgentPaneModel()
	m.Seed([]lifecycle.Snapshot{{ID: "reviewer", State: lifecycle.StateIdle, Since: t0}})

	for _, ev := range []events.AgentTransitionEvent{
		transition("coder", lifecycle.StateCreated, lifecycle.StateInitializing, "setup"),
		transition("coder", lifecycle.StateInitializing, lifecycle.StateIdle, "ready"),
		transition("coder", lifecycle.StateIdle, lifecycle.StateBusy, "work assigned"),
	} {
		m, _ = m.Update(ev)
	}

	coder, ok := m.Agent("coder")
	if !ok {
		t.Fatal("expected coder row")
	}
	if coder.State != lifecycle.StateBusy || len(coder.History) != 3 {
		t.Errorf("unexpected coder row: %+v", coder)
	}

	counts := m.Counts()
	if counts[lifecycle.StateBusy] != 1 || counts[lifecycle.StateIdle] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	// Rows are sorted by id
	if m.SelectedAgentID() != "coder" {
		t.Errorf("expected first row to be coder, got %q", m.SelectedAgentID())
	}
}

func TestAgentPane_SelectionFollowsAgent(t *testing.T) {
	m := NewAgentPaneModel()
	m.SetFocused(true)
	m, _ = m.Update(transition("m-agent", lifecycle.StateCreated, lifecycle.StateInitializing, "setup"))
	m, _ = m.Update(transition("z-agent", lifecycle.StateCreated, lifecycle.StateInitializing, "setup"))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.SelectedAgentID() != "z-agent" {
		t.Fatalf("expected z-agent selected, got %q", m.SelectedAgentID())
	}

	// A new agent sorting before the selection must not move it
	m, _ = m.Update(transition("a-agent", lifecycle.StateCreated, lifecycle.StateInitializing, "setup"))
	if m.SelectedAgentID() != "z-agent" {
		t.Errorf("expected selection to stay on z-agent, got %q", m.SelectedAgentID())
	}
}

func TestAgentPane_HistoryBounded(t *testing.T) {
	m := NewAgentPaneModel()
	for i := 0; i < historyLimit+10; i++ {
		m, _ = m.Update(transition("coder", lifecycle.StateIdle, lifecycle.StateBusy, "work assigned"))
	}
	coder, _ := m.Agent("coder")
	if len(coder.History) != historyLimit {
		t.Errorf("expected history capped at %d, got %d", historyLimit, len(coder.History))
	}
}

func TestTaskPane_StatusFlow(t *testing.T) {
	m := NewTaskPaneModel()
	m.SetSize(100, 30)

	steps := []tea.Msg{
		events.TaskStartedEvent{RunID: "r", ID: "task-1", Title: "Parse", AgentID: "coder", Timestamp: t0},
		events.TaskRetryingEvent{RunID: "r", ID: "task-1", AgentID: "coder", Attempt: 1, Err: errors.New("flaky"), Delay: time.Second},
		events.TaskCompletedEvent{RunID: "r", ID: "task-1", AgentID: "coder", Output: "line one\nline two", Attempts: 2, Duration: time.Second},
		events.TaskStartedEvent{RunID: "r", ID: "task-2", Title: "Lint", AgentID: "reviewer", Timestamp: t0},
		events.TaskFailedEvent{RunID: "r", ID: "task-2", AgentID: "reviewer", Err: errors.New("broken"), Attempts: 1},
		events.TaskCancelledEvent{RunID: "r", ID: "task-3", Reason: "level 0 had failures"},
	}
	for _, msg := range steps {
		m, _ = m.Update(msg)
	}

	task1, _ := m.Task("task-1")
	if task1.Status != StatusCompleted || task1.Attempts != 2 || task1.AgentID != "coder" {
		t.Errorf("unexpected task-1: %+v", task1)
	}
	joined := strings.Join(task1.Output, "\n")
	for _, want := range []string{"attempt 1 failed: flaky", "line one", "line two", "Completed in"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected task-1 output to contain %q, got:\n%s", want, joined)
		}
	}

	task2, _ := m.Task("task-2")
	if task2.Status != StatusFailed {
		t.Errorf("expected task-2 failed, got %q", task2.Status)
	}

	task3, ok := m.Task("task-3")
	if !ok || task3.Status != StatusCancelled || task3.Title != "task-3" {
		t.Errorf("expected never-started task-3 to be listed as cancelled, got %+v", task3)
	}

	if !strings.Contains(m.View(), "Parse") {
		t.Error("expected view to list task titles")
	}

	m, _ = m.Update(events.PlanStartedEvent{RunID: "r2", TotalTasks: 1})
	if _, ok := m.Task("task-1"); ok {
		t.Error("expected a new plan to clear the task list")
	}
}

func TestPlanPane_Progress(t *testing.T) {
	m := NewPlanPaneModel()
	m.SetSize(60, 20)

	if !strings.Contains(m.View(), "No plan running") {
		t.Error("expected idle view before a plan starts")
	}

	m, _ = m.Update(events.PlanStartedEvent{RunID: "r", TotalTasks: 4, Levels: 2})
	m, _ = m.Update(events.LevelStartedEvent{RunID: "r", Level: 1, Tasks: 2})
	m, _ = m.Update(events.PlanProgressEvent{RunID: "r", Total: 4, Completed: 2, Failed: 1})

	if m.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", m.Pending())
	}
	if view := m.View(); !strings.Contains(view, "Level 2 of 2") || !strings.Contains(view, "3/4") {
		t.Errorf("unexpected view:\n%s", view)
	}

	m, _ = m.Update(events.PlanFinishedEvent{RunID: "r", Completed: 2, Failed: 1, Cancelled: 1, Aborted: true, Duration: time.Second})
	if m.Pending() != 0 {
		t.Errorf("expected nothing pending after finish, got %d", m.Pending())
	}
	if !strings.Contains(m.View(), "Aborted") {
		t.Error("expected aborted run to be shown")
	}
}

func newTestModel(t *testing.T) (Model, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	dir := t.TempDir()
	m := New(bus, config.DefaultConfig(), filepath.Join(dir, "global.json"), filepath.Join(dir, "project.json"))
	return m, bus
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestModel_RoutesEvents(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 48})

	m, cmd := update(t, m, transition("coder", lifecycle.StateCreated, lifecycle.StateInitializing, "setup"))
	if cmd == nil {
		t.Error("expected the model to keep listening after an event")
	}
	m, _ = update(t, m, events.PlanStartedEvent{RunID: "r", TotalTasks: 1, Levels: 1})
	m, _ = update(t, m, events.TaskStartedEvent{RunID: "r", ID: "task-1", Title: "Parse", AgentID: "coder"})
	m, _ = update(t, m, events.PlanProgressEvent{RunID: "r", Total: 1, Completed: 1})

	if _, ok := m.agentPane.Agent("coder"); !ok {
		t.Error("expected agent pane to receive the transition")
	}
	if _, ok := m.taskPane.Task("task-1"); !ok {
		t.Error("expected task pane to receive the task")
	}
	if m.planPane.completed != 1 {
		t.Errorf("expected plan pane to receive progress, got %d completed", m.planPane.completed)
	}

	view := m.View()
	for _, want := range []string{"Agents", "Tasks", "Plan Progress", "coder"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestModel_WaitsForBusEvents(t *testing.T) {
	m, bus := newTestModel(t)

	bus.Publish(events.TopicPlan, events.PlanStartedEvent{RunID: "r", TotalTasks: 2})
	if msg := m.Init()(); msg == nil {
		t.Fatal("expected an event message")
	} else if _, ok := msg.(events.PlanStartedEvent); !ok {
		t.Fatalf("expected PlanStartedEvent, got %T", msg)
	}

	bus.Close()
	if _, ok := m.Init()().(busClosedMsg); !ok {
		t.Fatal("expected busClosedMsg after the bus closed")
	}
	m, _ = update(t, m, busClosedMsg{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	if !strings.Contains(m.View(), "Event stream closed") {
		t.Error("expected the closed stream to be shown")
	}
}

func TestModel_FocusCycling(t *testing.T) {
	m, _ := newTestModel(t)

	tab := tea.KeyMsg{Type: tea.KeyTab}
	shiftTab := tea.KeyMsg{Type: tea.KeyShiftTab}

	m, _ = update(t, m, tab)
	if m.focusedPane != PaneTasks {
		t.Errorf("expected tasks focused after tab, got %v", m.focusedPane)
	}
	m, _ = update(t, m, tab)
	m, _ = update(t, m, tab)
	if m.focusedPane != PaneAgents {
		t.Errorf("expected focus to wrap to agents, got %v", m.focusedPane)
	}
	m, _ = update(t, m, shiftTab)
	if m.focusedPane != PanePlan {
		t.Errorf("expected shift+tab to wrap to plan, got %v", m.focusedPane)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	if m.focusedPane != PaneTasks {
		t.Errorf("expected 2 to focus tasks, got %v", m.focusedPane)
	}
}

func TestModel_Quit(t *testing.T) {
	m, _ := newTestModel(t)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !m.quitting || cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestModel_SettingsToggle(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if !m.showSettings || !m.settingsPane.IsVisible() {
		t.Fatal("expected settings to open")
	}
	if !strings.Contains(m.View(), "Engine Settings") {
		t.Error("expected settings view")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.showSettings {
		t.Error("expected esc to close settings")
	}
}

func TestSettingsPane_Save(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	project := filepath.Join(dir, "project", "config.json")
	m := NewSettingsPaneModel(cfg, filepath.Join(dir, "global.json"), project)

	m.fields.maxConcurrency = "8"
	m.fields.continueOnFailure = true
	m.fields.levelTimeoutMS = "0"
	m.fields.retryAttempts = "1"
	m.fields.breakerThreshold = "3"

	if err := m.save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if cfg.Engine.MaxConcurrency != 8 || !cfg.Engine.ContinueOnFailure || cfg.Engine.LevelTimeoutMS != 0 ||
		cfg.Engine.RetryAttempts != 1 || cfg.Engine.BreakerThreshold != 3 {
		t.Errorf("config not updated: %+v", cfg.Engine)
	}

	loaded, err := config.Load("", project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Engine != cfg.Engine {
		t.Errorf("saved engine %+v differs from %+v", loaded.Engine, cfg.Engine)
	}
}

func TestSettingsPane_SaveRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	before := cfg.Engine
	project := filepath.Join(dir, "config.json")
	m := NewSettingsPaneModel(cfg, filepath.Join(dir, "global.json"), project)

	m.fields.maxConcurrency = "0"
	if err := m.save(); err == nil {
		t.Fatal("expected validation error for max concurrency 0")
	}
	m.fields.maxConcurrency = "two"
	if err := m.save(); err == nil {
		t.Fatal("expected parse error")
	}

	if cfg.Engine != before {
		t.Errorf("config changed despite errors: %+v", cfg.Engine)
	}
	if _, err := os.Stat(project); !os.IsNotExist(err) {
		t.Errorf("expected no file to be written, stat err: %v", err)
	}
}

func TestSettingsValidators(t *testing.T) {
	tests := []struct {
		in          string
		nonNegative bool
		positive    bool
	}{
		{"0", true, false},
		{"5", true, true},
		{"-1", false, false},
		{"x", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := nonNegative(tt.in) == nil; got != tt.nonNegative {
			t.Errorf("nonNegative(%q) ok=%v, want %v", tt.in, got, tt.nonNegative)
		}
		if got := positive(tt.in) == nil; got != tt.positive {
			t.Errorf("positive(%q) ok=%v, want %v", tt.in, got, tt.positive)
		}
	}
}
