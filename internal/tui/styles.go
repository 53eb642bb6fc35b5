package tui

import "github.com/charmbracelet/lipgloss"

var (
	greenColor  = lipgloss.Color("42")
	redColor    = lipgloss.Color("196")
	yellowColor = lipgloss.Color("220")
	blueColor   = lipgloss.Color("39")
	grayColor   = lipgloss.Color("241")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(blueColor)
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(yellowColor)

	okStyle    = lipgloss.NewStyle().Foreground(greenColor)
	errStyle   = lipgloss.NewStyle().Foreground(redColor)
	warnStyle  = lipgloss.NewStyle().Foreground(yellowColor)
	mutedStyle = lipgloss.NewStyle().Foreground(grayColor)

	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	helpStyle    = lipgloss.NewStyle().Foreground(grayColor).MarginTop(1)

	tailStyle = lipgloss.NewStyle().
			Foreground(grayColor).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			PaddingLeft(1)
)
