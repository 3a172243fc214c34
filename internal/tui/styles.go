package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#5a56e0", Dark: "#7b79f1"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#9a9a9a", Dark: "#6b6b6b"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d13438", Dark: "#fe5f86"}
	colorAgent   = lipgloss.AdaptiveColor{Light: "#0f7b6c", Dark: "#3ccad7"}

	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1)

	pageInfoStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)

	columnFocusStyle = columnStyle.
				BorderForeground(colorPrimary)

	columnTitleStyle = lipgloss.NewStyle().
				Bold(true)

	disabledTitleStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Strikethrough(true)

	moduleStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	humanStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	agentStyle = lipgloss.NewStyle().
			Foreground(colorAgent)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	lipglossSpinnerStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)
)
