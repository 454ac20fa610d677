package ui

import "github.com/charmbracelet/lipgloss"

// Shared palette. ANSI-16 indices so the dashboard respects terminal
// themes.
var (
	ColorAccent = lipgloss.Color("14") // cyan
	ColorPass   = lipgloss.Color("10") // green
	ColorWarn   = lipgloss.Color("11") // yellow
	ColorFail   = lipgloss.Color("9")  // red
	ColorMuted  = lipgloss.Color("8")  // gray
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	SectionStyle = lipgloss.NewStyle().
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	PassStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	FailStyle = lipgloss.NewStyle().
			Foreground(ColorFail)
)
