package tui

import "github.com/charmbracelet/lipgloss"

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleUp     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleDown   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleCursor = lipgloss.NewStyle().Reverse(true)
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	styleStatus = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleHelp   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	stylePorts  = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
)
