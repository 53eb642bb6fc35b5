// Package tui renders a run as a polling terminal UI: it never mutates run
// state directly, it calls the orchestrator's control operations and redraws
// from the Status read model on a fixed tick.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cantina-dev/cantina/internal/orchestrator"
)

// Controller is the slice of the orchestrator the UI drives.
type Controller interface {
	Status() orchestrator.Status
	Approve() error
	Replan(feedback string) error
	Cancel() error
	Close() error
}

type tickMsg time.Time

// Model is the bubbletea model for a single run.
type Model struct {
	orch         Controller
	pollInterval time.Duration
	costWarnAt   float64 // USD; 0 disables the footer warning

	status   orchestrator.Status
	spinner  spinner.Model
	feedback textinput.Model

	enteringFeedback bool
	flash            string // transient message from the last key action
	width            int
	height           int
	quitting         bool
}

// New builds the UI over an orchestrator-like controller. costWarnAt is the
// spend in USD past which the footer flags the run as over budget.
func New(orch Controller, pollInterval time.Duration, costWarnAt float64) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = phaseStyle

	fb := textinput.New()
	fb.Placeholder = "what should change about the plan?"
	fb.CharLimit = 500

	return Model{
		orch:         orch,
		pollInterval: pollInterval,
		costWarnAt:   costWarnAt,
		status:       orch.Status(),
		spinner:      sp,
		feedback:     fb,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spinner.Tick)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.status = m.orch.Status()
		if m.quitting {
			return m, tea.Quit
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.enteringFeedback {
		switch msg.Type {
		case tea.KeyEnter:
			if strings.TrimSpace(m.feedback.Value()) == "" {
				// Keep the input open: blank feedback never reaches the
				// planner.
				m.flash = "feedback cannot be empty"
				return m, nil
			}
			m.enteringFeedback = false
			if err := m.orch.Replan(m.feedback.Value()); err != nil {
				m.flash = err.Error()
			} else {
				m.flash = "replanning with feedback"
				m.feedback.SetValue("")
			}
			m.status = m.orch.Status()
			return m, nil
		case tea.KeyEsc:
			m.enteringFeedback = false
			return m, nil
		}
		var cmd tea.Cmd
		m.feedback, cmd = m.feedback.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.status.Phase.IsTerminal() {
			_ = m.orch.Close()
		}
		m.quitting = true
		return m, tea.Quit

	case "a":
		if m.status.Phase == orchestrator.PhasePlanReview {
			if err := m.orch.Approve(); err != nil {
				m.flash = err.Error()
			} else {
				m.flash = "plan approved"
			}
			m.status = m.orch.Status()
		}
		return m, nil

	case "r":
		if m.status.Phase == orchestrator.PhasePlanReview {
			m.enteringFeedback = true
			m.feedback.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case "c":
		if m.status.Phase.AcceptsCancel() {
			if err := m.orch.Cancel(); err != nil {
				m.flash = err.Error()
			} else {
				m.flash = "run cancelled"
			}
			m.status = m.orch.Status()
		}
		return m, nil
	}
	return m, nil
}
