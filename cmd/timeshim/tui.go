package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/engine"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/scenario"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// View states
type viewState int

const (
	viewMainMenu viewState = iota
	viewScenarioMenu
	viewRunning
	viewResults
)

// Message types
type messageType int

const (
	msgInfo messageType = iota
	msgWarning
	msgError
	msgSuccess
)

type userMessage struct {
	msgType messageType
	text    string
}

// demoFrames is how many frames each demo run lasts.
const demoFrames = 120

// Model holds the state of the TUI
type model struct {
	state   viewState
	cursor  int
	choices []string
	width   int
	height  int

	cfg engine.Config

	// Run execution
	scenario scenario.Scenario
	running  bool
	report   *scenario.Report
	runErr   error
	progress *progressMsg

	// Animation
	spinnerFrame int

	userMessage *userMessage
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7D56F4")).
		PaddingLeft(2)

	menuItemStyle = lipgloss.NewStyle().
		PaddingLeft(4)

	selectedItemStyle = lipgloss.NewStyle().
		PaddingLeft(2).
		Foreground(lipgloss.Color("#7D56F4")).
		Bold(true)

	helpStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		PaddingTop(1).
		PaddingLeft(2)

	resultsStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		Padding(1, 2)

	clockStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#00A9E0")).
		Padding(0, 2).
		MarginLeft(2)

	virtualStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#50FA7B")).
		Bold(true)

	realStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFB800")).
		Bold(true)

	infoMessageStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#00A9E0")).
		Foreground(lipgloss.Color("#00A9E0")).
		Padding(0, 2).
		MarginTop(1).
		MarginLeft(2)

	warningMessageStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#FFB800")).
		Foreground(lipgloss.Color("#FFB800")).
		Padding(0, 2).
		MarginTop(1).
		MarginLeft(2)

	errorMessageStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#FF5555")).
		Foreground(lipgloss.Color("#FF5555")).
		Padding(0, 2).
		MarginTop(1).
		MarginLeft(2)

	successMessageStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#50FA7B")).
		Foreground(lipgloss.Color("#50FA7B")).
		Padding(0, 2).
		MarginTop(1).
		MarginLeft(2)
)

// Messages
type runCompleteMsg struct {
	report *scenario.Report
	err    error
}

type progressMsg struct {
	frame       int
	totalFrames int
	snap        engine.FrameSnapshot
}

type tickMsg struct{}

// Global program reference for sending progress updates
var globalProgram *tea.Program

var mainMenu = []string{
	"Run a timing scenario",
	"Exit",
}

func scenarioMenu() []string {
	choices := make([]string, 0, len(scenario.Scenarios())+1)
	for _, sc := range scenario.Scenarios() {
		choices = append(choices, fmt.Sprintf("%-11s %s", sc, sc.Describe()))
	}
	return append(choices, "Back to Main Menu")
}

func initialModel(cfg engine.Config) model {
	msg := &userMessage{
		msgType: msgInfo,
		text: fmt.Sprintf("Framerate %s, sleep=%s wait=%s",
			cfg.Framerate, cfg.SleepPolicy, cfg.WaitPolicy),
	}
	if cfg.SleepPolicy == policy.ModeNative || cfg.WaitPolicy == policy.ModeNative {
		msg.msgType = msgWarning
		msg.text += "\n   NATIVE passes calls through: expect real-time pacing"
	}

	return model{
		state:       viewMainMenu,
		choices:     mainMenu,
		cfg:         cfg,
		userMessage: msg,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case runCompleteMsg:
		m.running = false
		m.report = msg.report
		m.runErr = msg.err
		m.state = viewResults

		if msg.err == nil && msg.report != nil {
			m.userMessage = &userMessage{
				msgType: msgSuccess,
				text: fmt.Sprintf("Ran %d frames: %v virtual in %v real",
					msg.report.Frames,
					msg.report.VirtualElapsed.Round(time.Millisecond),
					msg.report.RealElapsed.Round(time.Millisecond)),
			}
		}
		return m, nil

	case progressMsg:
		m.progress = &msg
		return m, nil

	case tickMsg:
		if m.state == viewRunning {
			m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
			return m, tick()
		}
	}

	return m, nil
}

func (m model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.state {
	case viewMainMenu:
		return m.handleMainMenuKeys(msg)
	case viewScenarioMenu:
		return m.handleScenarioMenuKeys(msg)
	case viewResults:
		return m.handleResultsKeys(msg)
	}
	return m, nil
}

func (m *model) moveCursor(key string) {
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	}
}

func (m model) handleMainMenuKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "up", "k", "down", "j":
		m.moveCursor(msg.String())
		m.userMessage = nil

	case "enter", " ":
		if m.cursor == len(m.choices)-1 {
			return m, tea.Quit
		}
		m.state = viewScenarioMenu
		m.cursor = 0
		m.userMessage = nil
		m.choices = scenarioMenu()
	}
	return m, nil
}

func (m model) handleScenarioMenuKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "up", "k", "down", "j":
		m.moveCursor(msg.String())

	case "esc":
		m.state = viewMainMenu
		m.cursor = 0
		m.choices = mainMenu

	case "enter", " ":
		if m.cursor == len(m.choices)-1 {
			m.state = viewMainMenu
			m.cursor = 0
			m.choices = mainMenu
			return m, nil
		}

		m.scenario = scenario.Scenarios()[m.cursor]
		m.running = true
		m.state = viewRunning
		m.progress = nil
		return m, tea.Batch(runScenario(m.cfg, m.scenario), tick())
	}
	return m, nil
}

func (m model) handleResultsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "enter", " ", "esc":
		m.state = viewScenarioMenu
		m.cursor = 0
		m.report = nil
		m.runErr = nil
		m.userMessage = nil
		m.choices = scenarioMenu()
	}
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case viewMainMenu:
		return m.renderMenu("Timeshim Demo - Interactive Menu")
	case viewScenarioMenu:
		return m.renderMenu("Timing Scenarios")
	case viewRunning:
		return m.renderRunning()
	case viewResults:
		return m.renderResults()
	}
	return ""
}

func (m model) renderMenu(title string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title) + "\n\n")

	for i, choice := range m.choices {
		if m.cursor == i {
			sb.WriteString(selectedItemStyle.Render("▶ "+choice) + "\n")
		} else {
			sb.WriteString(menuItemStyle.Render("  "+choice) + "\n")
		}
	}

	sb.WriteString(helpStyle.Render("\nUse ↑/↓ or j/k to navigate • Enter to select • q to quit"))

	if m.userMessage != nil {
		sb.WriteString("\n" + m.renderUserMessage())
	}
	return sb.String()
}

func (m model) renderRunning() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Running %s scenario...", m.scenario)) + "\n\n")
	sb.WriteString("  " + m.spinner() + " Driving frames...\n\n")

	if m.progress == nil {
		sb.WriteString("  Initializing...\n")
	} else {
		p := m.progress
		percentage := float64(p.frame) / float64(p.totalFrames) * 100

		const barWidth = 40
		filled := int(percentage / 100 * barWidth)
		bar := "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"

		fmt.Fprintf(&sb, "  %s %.1f%%\n\n", bar, percentage)
		fmt.Fprintf(&sb, "  Frame:   %d / %d\n\n", p.frame, p.totalFrames)

		clocks := fmt.Sprintf("%s %s\n%s %s\n\nLast frame: %s virtual, %s real",
			virtualStyle.Render("Virtual:"), p.snap.Virtual,
			realStyle.Render("Real:   "), p.snap.RealElapsed.Round(time.Millisecond),
			p.snap.VirtualDelta.Round(time.Microsecond),
			p.snap.RealDelta.Round(time.Microsecond))
		if p.snap.RealElapsed > 0 {
			speedup := float64(p.snap.Virtual.Duration()) / float64(p.snap.RealElapsed)
			clocks += fmt.Sprintf("\nSpeedup:    %.1fx", speedup)
		}
		sb.WriteString(clockStyle.Render(clocks) + "\n")
	}

	sb.WriteString("\n" + helpStyle.Render("Running... Press Ctrl+C to quit"))
	return sb.String()
}

func (m model) renderResults() string {
	if m.runErr != nil {
		errMsg := errorMessageStyle.Render("Run failed!\n   " + m.runErr.Error())
		return titleStyle.Render("Run Failed") + "\n\n" +
			errMsg + "\n\n" +
			helpStyle.Render("Press Enter to go back")
	}

	if m.report == nil {
		return "No results available"
	}

	header := titleStyle.Render("Run Complete") + "\n"

	var successMsg string
	if m.userMessage != nil {
		successMsg = "\n" + m.renderUserMessage() + "\n"
	}

	report := resultsStyle.Render(scenario.Format(m.report))
	footer := helpStyle.Render("\nPress Enter to run another scenario • q to quit")

	return header + successMsg + report + footer
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (m model) spinner() string {
	return spinnerFrames[m.spinnerFrame]
}

func (m model) renderUserMessage() string {
	if m.userMessage == nil {
		return ""
	}

	var style lipgloss.Style
	switch m.userMessage.msgType {
	case msgInfo:
		style = infoMessageStyle
	case msgWarning:
		style = warningMessageStyle
	case msgError:
		style = errorMessageStyle
	case msgSuccess:
		style = successMessageStyle
	}
	return style.Render(m.userMessage.text)
}

// runScenario runs sc on a fresh engine with real OS primitives. Logging is
// off because the TUI owns the terminal.
func runScenario(cfg engine.Config, sc scenario.Scenario) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		eng, err := newEngine(cfg, zerolog.Nop(), false)
		if err != nil {
			return runCompleteMsg{err: err}
		}
		defer eng.Shutdown(ctx)

		report, err := scenario.Run(ctx, eng, sc, scenario.Options{
			Frames: demoFrames,
			Progress: func(frame, total int, snap engine.FrameSnapshot) {
				if globalProgram != nil {
					globalProgram.Send(progressMsg{
						frame:       frame,
						totalFrames: total,
						snap:        snap,
					})
				}
			},
		})

		return runCompleteMsg{
			report: report,
			err:    err,
		}
	}
}

func runDemo(cmd *cobra.Command) error {
	cfg, err := engine.Load(configPath)
	if err != nil {
		return err
	}

	p := tea.NewProgram(initialModel(cfg), tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	// Set the global program reference for progress updates
	globalProgram = p

	_, err = p.Run()
	return err
}
