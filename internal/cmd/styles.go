package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(greenColor).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(amberColor).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(redColor).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// maxValueWidth bounds values in the status box; messages can be long.
const maxValueWidth = 72

// stateStyle colors a bridge or pairing state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "ok", "running", "authenticated", "qr_ready", "restarting":
		return okStyle
	case "starting", "stopping", "delayed":
		return warnStyle
	case "error", "failed", "exited", "stopped":
		return errStyle
	default:
		return mutedStyle
	}
}

// truncate shortens s to maxWidth visual columns, keeping ANSI sequences intact.
func truncate(s string, maxWidth int) string {
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), truncate(value, maxValueWidth))
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}
