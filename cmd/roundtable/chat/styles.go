package chat

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme is the color palette for the chat UI.
type Theme struct {
	Primary    lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Error      lipgloss.Color
	Background lipgloss.Color
}

// DarkTheme is the default palette.
func DarkTheme() Theme {
	return Theme{
		Primary:    lipgloss.Color("#7aa2f7"),
		Secondary:  lipgloss.Color("#9ece6a"),
		Muted:      lipgloss.Color("#565f89"),
		Error:      lipgloss.Color("#f7768e"),
		Background: lipgloss.Color("#1a1b26"),
	}
}

// Styles holds the styled components.
type Styles struct {
	Theme Theme

	Header    lipgloss.Style
	Footer    lipgloss.Style
	UserLine  lipgloss.Style
	AgentName lipgloss.Style
	Moderator lipgloss.Style
	Streaming lipgloss.Style
	Error     lipgloss.Style
	Spinner   lipgloss.Style
	Help      lipgloss.Style
}

// NewStyles builds the style set for a theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		UserLine: lipgloss.NewStyle().
			Foreground(theme.Secondary).
			Bold(true),

		AgentName: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Moderator: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Streaming: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Error: lipgloss.NewStyle().
			Foreground(theme.Error).
			Bold(true),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Primary),

		Help: lipgloss.NewStyle().
			Foreground(theme.Muted),
	}
}
