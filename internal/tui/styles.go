package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/lifecycle"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusCancelled = lipgloss.NewStyle().
				Foreground(lipgloss.Color("magenta"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

// StateStyle returns the style used for an agent lifecycle state.
func StateStyle(s lifecycle.State) lipgloss.Style {
	switch s {
	case lifecycle.StateIdle:
		return StyleStatusComplete
	case lifecycle.StateBusy, lifecycle.StateInitializing:
		return StyleStatusRunning
	case lifecycle.StateError:
		return StyleStatusFailed
	case lifecycle.StatePaused, lifecycle.StateStopping:
		return StyleStatusCancelled
	default:
		return StyleStatusPending
	}
}
