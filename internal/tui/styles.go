package tui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	colorPrimary = lipgloss.Color("#8BC34A")
	colorAccent  = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.Color("#6b7280")
	colorError   = lipgloss.Color("#e53935")
	colorBorder  = lipgloss.Color("#2a3850")
)

// Styles holds every style the model renders with.
type Styles struct {
	Title      lipgloss.Style
	Subtitle   lipgloss.Style
	Label      lipgloss.Style
	Focused    lipgloss.Style
	Own        lipgloss.Style
	Other      lipgloss.Style
	System     lipgloss.Style
	Timestamp  lipgloss.Style
	Typing     lipgloss.Style
	Info       lipgloss.Style
	Error      lipgloss.Style
	Help       lipgloss.Style
	MessageBox lipgloss.Style
}

// DefaultStyles returns the styles used by New.
func DefaultStyles() Styles {
	return Styles{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Subtitle:   lipgloss.NewStyle().Foreground(colorMuted),
		Label:      lipgloss.NewStyle().Foreground(colorMuted),
		Focused:    lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Own:        lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Other:      lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		System:     lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Timestamp:  lipgloss.NewStyle().Foreground(colorMuted),
		Typing:     lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Info:       lipgloss.NewStyle().Foreground(colorPrimary),
		Error:      lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Help:       lipgloss.NewStyle().Foreground(colorMuted),
		MessageBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1),
	}
}
