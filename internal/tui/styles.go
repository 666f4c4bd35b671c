package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	Primary   = lipgloss.Color("#7C3AED") // Purple
	Secondary = lipgloss.Color("#06B6D4") // Cyan
	Success   = lipgloss.Color("#10B981") // Green
	Warning   = lipgloss.Color("#F59E0B") // Amber
	Error     = lipgloss.Color("#EF4444") // Red
	Muted     = lipgloss.Color("#6B7280") // Gray

	BgHover = lipgloss.Color("#334155") // Slate 700

	colorTextBright = lipgloss.Color("#F8FAFC") // Slate 50
	colorTextNormal = lipgloss.Color("#CBD5E1") // Slate 300
	colorTextMuted  = lipgloss.Color("#64748B") // Slate 500
)

// Styles
var (
	TextMuted = lipgloss.NewStyle().Foreground(colorTextMuted)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTextBright).
			Background(Primary).
			Padding(0, 2).
			MarginBottom(1)

	// List items
	ListItemStyle = lipgloss.NewStyle().
			Foreground(colorTextNormal).
			PaddingLeft(2)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(colorTextBright).
				Background(BgHover).
				Bold(true).
				PaddingLeft(2)

	// Status indicators
	StatusOnline = lipgloss.NewStyle().
			Foreground(Success).
			SetString("●")

	StatusOffline = lipgloss.NewStyle().
			Foreground(Muted).
			SetString("●")

	// Signal strength
	SignalStrong = lipgloss.NewStyle().Foreground(Success)
	SignalFair   = lipgloss.NewStyle().Foreground(Warning)
	SignalWeak   = lipgloss.NewStyle().Foreground(Error)

	// Help bar
	HelpStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	// Messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)

	// Spinner
	SpinnerStyle = lipgloss.NewStyle().
			Foreground(Primary)
)

// RenderHelp renders one key hint
func RenderHelp(key, desc string) string {
	return HelpKeyStyle.Render(key) + HelpStyle.Render(" "+desc)
}

// Truncate shortens s to max runes with an ellipsis
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
