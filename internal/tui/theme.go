package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F2"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	colorUser   = lipgloss.AdaptiveColor{Light: "#1F7A5C", Dark: "#50FA7B"}
	colorDanger = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF5555"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#44475A"}
)

// Styles holds the lipgloss styles used across the UI.
type Styles struct {
	User       lipgloss.Style
	Assistant  lipgloss.Style
	Muted      lipgloss.Style
	Banner     lipgloss.Style
	Status     lipgloss.Style
	Panel      lipgloss.Style
	PanelFocus lipgloss.Style
	Category   lipgloss.Style
	Selected   lipgloss.Style
}

func defaultStyles() Styles {
	return Styles{
		User: lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true),
		Assistant: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(colorMuted),
		Banner: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorDanger).
			Padding(0, 1),
		Status: lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		PanelFocus: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1),
		Category: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		Selected: lipgloss.NewStyle().
			Reverse(true),
	}
}
