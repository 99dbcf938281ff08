package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/lifecycle"
)

// historyLimit bounds the transitions kept per agent for display.
const historyLimit = 50

// AgentRow is the display record of one agent's lifecycle.
type AgentRow struct {
	ID      string
	State   lifecycle.State
	Since   time.Time
	History []lifecycle.Transition
}

// AgentPaneModel lists agents with their lifecycle state and shows the
// selected agent's recent transitions.
type AgentPaneModel struct {
	agents      map[string]*AgentRow
	order       []string // sorted by id
	selectedIdx int
	width       int
	height      int
	focused     bool
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{agents: make(map[string]*AgentRow)}
}

// Seed loads the current state of agents registered before the pane subscribed.
func (m *AgentPaneModel) Seed(snaps []lifecycle.Snapshot) {
	for _, s := range snaps {
		row := m.row(s.ID)
		row.State = s.State
		row.Since = s.Since
		row.History = tail(append([]lifecycle.Transition(nil), s.History...))
	}
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		}

	case events.AgentTransitionEvent:
		row := m.row(msg.AgentID)
		row.State = msg.Transition.To
		row.Since = msg.Transition.At
		row.History = tail(append(row.History, msg.Transition))
	}
	return m, nil
}

func tail(h []lifecycle.Transition) []lifecycle.Transition {
	if len(h) > historyLimit {
		return h[len(h)-historyLimit:]
	}
	return h
}

func (m *AgentPaneModel) row(id string) *AgentRow {
	if r, ok := m.agents[id]; ok {
		return r
	}
	selected := m.SelectedAgentID()
	r := &AgentRow{ID: id}
	m.agents[id] = r
	m.order = append(m.order, id)
	sort.Strings(m.order)
	// Keep the selection on the same agent
	for i, oid := range m.order {
		if oid == selected {
			m.selectedIdx = i
		}
	}
	return r
}

// SelectedAgentID returns the id of the selected agent, or "".
func (m AgentPaneModel) SelectedAgentID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Agent returns a copy of the row for id.
func (m AgentPaneModel) Agent(id string) (AgentRow, bool) {
	r, ok := m.agents[id]
	if !ok {
		return AgentRow{}, false
	}
	cp := *r
	cp.History = append([]lifecycle.Transition(nil), r.History...)
	return cp, true
}

// Counts returns how many agents are in each state.
func (m AgentPaneModel) Counts() map[lifecycle.State]int {
	counts := make(map[lifecycle.State]int)
	for _, r := range m.agents {
		counts[r.State]++
	}
	return counts
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents registered"))
	}
	for i, id := range m.order {
		r := m.agents[id]
		line := fmt.Sprintf("%-14s %s", truncate(id, 14), StateStyle(r.State).Render(r.State.String()))
		if i == m.selectedIdx {
			line = StyleSelected.Render(fmt.Sprintf("%-14s %s", truncate(id, 14), r.State.String()))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if r, ok := m.agents[m.SelectedAgentID()]; ok {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("History: " + r.ID))
		b.WriteString("\n")
		// Newest last; show as many as fit
		room := max(m.height-len(m.order)-10, 1)
		hist := r.History
		if len(hist) > room {
			hist = hist[len(hist)-room:]
		}
		for _, t := range hist {
			b.WriteString(formatTransition(t))
			b.WriteString("\n")
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

func formatTransition(t lifecycle.Transition) string {
	line := fmt.Sprintf("%s %s → %s", t.At.Format("15:04:05"), t.From, t.To)
	if t.Reason != "" {
		line += " (" + t.Reason + ")"
	}
	if t.Forced {
		line += " [forced]"
	}
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
