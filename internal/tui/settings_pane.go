package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/godel/internal/config"
)

// Save targets.
const (
	TargetGlobal  = "global"
	TargetProject = "project"
)

// SettingsPaneModel manages the engine settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings. Held by pointer so the form keeps writing to
	// them after the model is copied.
	fields *settingsFields
}

// settingsFields are the form values (strings for Huh).
type settingsFields struct {
	saveTarget        string
	maxConcurrency    string
	continueOnFailure bool
	levelTimeoutMS    string
	totalTimeoutMS    string
	retryAttempts     string
	retryDelayMS      string
	cancelGraceMS     string
	breakerThreshold  string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		fields:      &settingsFields{},
	}
	m.loadFields()
	m.buildForm()
	return m
}

// loadFields copies the engine section into the form bindings.
func (m *SettingsPaneModel) loadFields() {
	e := m.config.Engine
	m.fields.saveTarget = TargetProject
	m.fields.maxConcurrency = strconv.Itoa(e.MaxConcurrency)
	m.fields.continueOnFailure = e.ContinueOnFailure
	m.fields.levelTimeoutMS = strconv.FormatInt(e.LevelTimeoutMS, 10)
	m.fields.totalTimeoutMS = strconv.FormatInt(e.TotalTimeoutMS, 10)
	m.fields.retryAttempts = strconv.Itoa(e.RetryAttempts)
	m.fields.retryDelayMS = strconv.FormatInt(e.RetryDelayMS, 10)
	m.fields.cancelGraceMS = strconv.FormatInt(e.CancelGraceMS, 10)
	m.fields.breakerThreshold = strconv.Itoa(e.BreakerThreshold)
}

func nonNegative(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func positive(s string) error {
	if err := nonNegative(s); err != nil {
		return err
	}
	if s == "0" {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("maxConcurrency").
				Title("Max Concurrency").
				Description("Tasks in flight across the whole plan").
				Value(&m.fields.maxConcurrency).
				Validate(positive),

			huh.NewConfirm().
				Key("continueOnFailure").
				Title("Continue On Failure").
				Description("Run later levels after a task fails").
				Value(&m.fields.continueOnFailure),

			huh.NewInput().
				Key("retryAttempts").
				Title("Retry Attempts").
				Value(&m.fields.retryAttempts).
				Validate(nonNegative),

			huh.NewInput().
				Key("retryDelayMS").
				Title("Retry Delay (ms)").
				Value(&m.fields.retryDelayMS).
				Validate(nonNegative),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewInput().
				Key("levelTimeoutMS").
				Title("Level Timeout (ms)").
				Description("0 disables").
				Value(&m.fields.levelTimeoutMS).
				Validate(nonNegative),

			huh.NewInput().
				Key("totalTimeoutMS").
				Title("Total Timeout (ms)").
				Description("0 disables").
				Value(&m.fields.totalTimeoutMS).
				Validate(nonNegative),

			huh.NewInput().
				Key("cancelGraceMS").
				Title("Cancel Grace (ms)").
				Value(&m.fields.cancelGraceMS).
				Validate(nonNegative),

			huh.NewInput().
				Key("breakerThreshold").
				Title("Circuit Breaker Threshold").
				Description("Consecutive failures per agent; 0 disables").
				Value(&m.fields.breakerThreshold).
				Validate(nonNegative),
		).Title("Timeouts"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+m.projectPath+")", TargetProject),
					huh.NewOption("Global ("+m.globalPath+")", TargetGlobal),
				).
				Value(&m.fields.saveTarget),
		).Title("Save Target"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.save()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save applies the form to the config, validates it and writes the chosen file.
// The in-memory config is left untouched when validation fails.
func (m *SettingsPaneModel) save() error {
	engine, err := m.engineFromFields()
	if err != nil {
		return err
	}

	next := *m.config
	next.Engine = engine
	if err := next.Validate(); err != nil {
		return err
	}

	targetPath := m.globalPath
	if m.fields.saveTarget == TargetProject {
		targetPath = m.projectPath
	}
	if err := config.Save(&next, targetPath); err != nil {
		return err
	}
	m.config.Engine = engine
	return nil
}

func (m *SettingsPaneModel) engineFromFields() (config.EngineConfig, error) {
	var e config.EngineConfig
	var err error
	parseInt := func(name, s string) int {
		if err != nil {
			return 0
		}
		var n int
		n, err = strconv.Atoi(s)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return n
	}
	parseMS := func(name, s string) int64 {
		if err != nil {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return n
	}

	e.MaxConcurrency = parseInt("max concurrency", m.fields.maxConcurrency)
	e.ContinueOnFailure = m.fields.continueOnFailure
	e.LevelTimeoutMS = parseMS("level timeout", m.fields.levelTimeoutMS)
	e.TotalTimeoutMS = parseMS("total timeout", m.fields.totalTimeoutMS)
	e.RetryAttempts = parseInt("retry attempts", m.fields.retryAttempts)
	e.RetryDelayMS = parseMS("retry delay", m.fields.retryDelayMS)
	e.CancelGraceMS = parseMS("cancel grace", m.fields.cancelGraceMS)
	e.BreakerThreshold = parseInt("breaker threshold", m.fields.breakerThreshold)
	return e, err
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v (esc to close)", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(m.width-4, 20)).
		Height(max(m.height-4, 10))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Engine Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFields()
		m.buildForm()
		if m.width > 0 {
			m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
