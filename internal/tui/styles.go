package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))

	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Italic(true)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)
