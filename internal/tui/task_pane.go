package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/events"
)

// Task row statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const taskListWidth = 28

// TaskState is the display record of one planned task.
type TaskState struct {
	TaskID    string
	Title     string
	AgentID   string
	Status    string
	Attempts  int
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel shows the tasks of the current run and the selected task's output.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	taskOrder   []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.PlanStartedEvent:
		// New run: start from an empty list
		m.tasks = make(map[string]*TaskState)
		m.taskOrder = nil
		m.selectedIdx = 0
		m.updateViewportContent()

	case events.TaskStartedEvent:
		t := m.task(msg.ID)
		t.Title = msg.Title
		t.AgentID = msg.AgentID
		t.Status = StatusRunning
		t.Attempts = 1
		t.StartTime = msg.Timestamp
		t.Output = append(t.Output, fmt.Sprintf("[%s started on %s]", msg.ID, msg.AgentID))
		m.refreshIfSelected(msg.ID)

	case events.TaskRetryingEvent:
		t := m.task(msg.ID)
		t.Attempts = msg.Attempt + 1
		t.Output = append(t.Output, fmt.Sprintf("[attempt %d failed: %v; retrying in %v]", msg.Attempt, msg.Err, msg.Delay))
		m.refreshIfSelected(msg.ID)

	case events.TaskCompletedEvent:
		t := m.task(msg.ID)
		t.Status = StatusCompleted
		t.Attempts = msg.Attempts
		t.Duration = msg.Duration
		if msg.Output != "" {
			t.Output = append(t.Output, strings.Split(msg.Output, "\n")...)
		}
		t.Output = append(t.Output, fmt.Sprintf("\n[Completed in %v]", msg.Duration.Round(time.Millisecond)))
		m.refreshIfSelected(msg.ID)

	case events.TaskFailedEvent:
		t := m.task(msg.ID)
		t.Status = StatusFailed
		t.Attempts = msg.Attempts
		t.Duration = msg.Duration
		t.Output = append(t.Output, fmt.Sprintf("\n[Failed: %v]", msg.Err))
		m.refreshIfSelected(msg.ID)

	case events.TaskCancelledEvent:
		t := m.task(msg.ID)
		t.Status = StatusCancelled
		t.Output = append(t.Output, fmt.Sprintf("[Cancelled: %s]", msg.Reason))
		m.refreshIfSelected(msg.ID)
	}

	return m, cmd
}

// task returns the row for id, adding it if needed.
func (m *TaskPaneModel) task(id string) *TaskState {
	if t, ok := m.tasks[id]; ok {
		return t
	}
	t := &TaskState{TaskID: id, Title: id}
	m.tasks[id] = t
	m.taskOrder = append(m.taskOrder, id)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
	}
	return t
}

func (m *TaskPaneModel) refreshIfSelected(id string) {
	if m.SelectedTaskID() == id {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - taskListWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(taskListWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.taskOrder {
			t := m.tasks[id]
			name := t.Title
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}
			line := fmt.Sprintf("%s %s", StatusIcon(t.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	case StatusCancelled:
		return StyleStatusCancelled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the id of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns a copy of the row for id.
func (m TaskPaneModel) Task(id string) (TaskState, bool) {
	t, ok := m.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	cp := *t
	cp.Output = append([]string(nil), t.Output...)
	return cp, true
}

func (m *TaskPaneModel) updateViewportContent() {
	t, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(t.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-taskListWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
