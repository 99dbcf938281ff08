package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/events"
)

// PlanPaneModel shows progress of the current run level by level.
type PlanPaneModel struct {
	runID     string
	total     int
	levels    int
	level     int // index of the level in progress, -1 before the first
	completed int
	failed    int
	cancelled int
	finished  bool
	aborted   bool
	duration  time.Duration
	width     int
	height    int
	focused   bool
}

// NewPlanPaneModel creates a new plan pane model.
func NewPlanPaneModel() PlanPaneModel {
	return PlanPaneModel{level: -1}
}

// Update handles messages for the plan pane.
func (m PlanPaneModel) Update(msg tea.Msg) (PlanPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.PlanStartedEvent:
		m = PlanPaneModel{
			runID:   msg.RunID,
			total:   msg.TotalTasks,
			levels:  msg.Levels,
			level:   -1,
			width:   m.width,
			height:  m.height,
			focused: m.focused,
		}

	case events.LevelStartedEvent:
		m.level = msg.Level

	case events.PlanProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.failed = msg.Failed
		m.cancelled = msg.Cancelled

	case events.PlanFinishedEvent:
		m.completed = msg.Completed
		m.failed = msg.Failed
		m.cancelled = msg.Cancelled
		m.aborted = msg.Aborted
		m.duration = msg.Duration
		m.finished = true
	}

	return m, nil
}

// Pending is the number of tasks not yet terminal.
func (m PlanPaneModel) Pending() int {
	return m.total - m.completed - m.failed - m.cancelled
}

// View renders the plan pane.
func (m PlanPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Plan Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.runID == "" {
		b.WriteString(StyleStatusPending.Render("No plan running"))
	} else {
		switch {
		case m.finished && m.aborted:
			b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("Aborted after %v", m.duration.Round(time.Millisecond))))
		case m.finished:
			b.WriteString(StyleStatusComplete.Render(fmt.Sprintf("Finished in %v", m.duration.Round(time.Millisecond))))
		case m.level >= 0:
			b.WriteString(fmt.Sprintf("Level %d of %d", m.level+1, m.levels))
		default:
			b.WriteString(fmt.Sprintf("%d levels queued", m.levels))
		}
		b.WriteString("\n\n")

		b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
		b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed))))
		b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
		b.WriteString(fmt.Sprintf("Cancelled: %s\n", StyleStatusCancelled.Render(fmt.Sprintf("%d", m.cancelled))))
		b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.Pending()))))
		b.WriteString("\n")

		if m.total > 0 {
			barWidth := min(m.width-4, 40)
			completedWidth := (m.completed * barWidth) / m.total
			failedWidth := (m.failed * barWidth) / m.total
			cancelledWidth := (m.cancelled * barWidth) / m.total
			pendingWidth := barWidth - completedWidth - failedWidth - cancelledWidth

			bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
			bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
			bar += StyleStatusCancelled.Render(strings.Repeat("x", max(0, cancelledWidth)))
			bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

			b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.total-m.Pending(), m.total))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *PlanPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *PlanPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
