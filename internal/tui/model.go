// Package tui is the terminal dashboard for a running plan.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/lifecycle"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneTasks
	PanePlan
	paneCount
)

// busClosedMsg is delivered once the event subscription ends.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	agentPane    AgentPaneModel
	taskPane     TaskPaneModel
	planPane     PlanPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
	busClosed    bool
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(bus *events.Bus, cfg *config.Config, globalPath, projectPath string) Model {
	m := Model{
		agentPane:    NewAgentPaneModel(),
		taskPane:     NewTaskPaneModel(),
		planPane:     NewPlanPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneAgents,
		eventSub:     bus.SubscribeAll(1024),
	}
	m.updateFocusStates()
	return m
}

// SeedAgents shows agents registered before the model subscribed.
func (m *Model) SeedAgents(snaps []lifecycle.Snapshot) {
	m.agentPane.Seed(snaps)
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Settings panel is modal
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PanePlan
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneAgents:
				m.agentPane, cmd = m.agentPane.Update(msg)
			case PaneTasks:
				m.taskPane, cmd = m.taskPane.Update(msg)
			case PanePlan:
				m.planPane, cmd = m.planPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.AgentTransitionEvent:
		m.agentPane, _ = m.agentPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.TaskStartedEvent, events.TaskRetryingEvent, events.TaskCompletedEvent,
		events.TaskFailedEvent, events.TaskCancelledEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.PlanStartedEvent:
		m.taskPane, _ = m.taskPane.Update(msg)
		m.planPane, _ = m.planPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.PlanProgressEvent, events.PlanFinishedEvent, events.LevelStartedEvent, events.LevelFinishedEvent:
		m.planPane, _ = m.planPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Unknown event kinds are consumed
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		m.busClosed = true

	default:
		// Let an open form see its own messages (cursor blink, focus)
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top,
		m.agentPane.View(),
		lipgloss.JoinVertical(lipgloss.Left, m.taskPane.View(), m.planPane.View()),
	)

	help := HelpView()
	if m.busClosed {
		help = StyleHelp.Render("Event stream closed | ") + help
	}
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, help)
}

// computeLayout calculates pane dimensions and updates all child models.
// Agents take the left 35%; tasks and plan split the right side 70/30.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 35) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	rightTopHeight := (availableHeight * 70) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.taskPane.SetSize(rightWidth, rightTopHeight)
	m.planPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.planPane.SetFocused(m.focusedPane == PanePlan)
}
