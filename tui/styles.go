// Package tui provides the interactive terminal monitor for disk management.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for consistent theming
var (
	ColorPrimary    = lipgloss.Color("#7D56F4")
	ColorSuccess    = lipgloss.Color("#28A745")
	ColorWarning    = lipgloss.Color("#FFC107")
	ColorError      = lipgloss.Color("#DC3545")
	ColorMuted      = lipgloss.Color("#6C757D")
	ColorForeground = lipgloss.Color("#CDD6F4")
)

// Styles provides consistent styling across the monitor views.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style

	Panel       lipgloss.Style
	TableHeader lipgloss.Style
	Help        lipgloss.Style
}

// DefaultStyles returns the standard style set.
func DefaultStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1),
		Subtitle: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),
		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorForeground),
		Help: lipgloss.NewStyle().Foreground(ColorMuted),
	}
}
