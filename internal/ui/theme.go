// Package ui is the ChatNest terminal interface: an auth screen, a chat
// screen and the root model switching between them. Both screens take their
// look from a Theme.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles shared by the auth and chat screens.
type Theme struct {
	Name   string
	Banner string

	App      lipgloss.Style
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Panel    lipgloss.Style

	OwnBubble   lipgloss.Style
	OtherBubble lipgloss.Style
	BotBubble   lipgloss.Style
	Author      lipgloss.Style
	BotAuthor   lipgloss.Style
	Timestamp   lipgloss.Style

	Tip    lipgloss.Style
	Typing lipgloss.Style
	Help   lipgloss.Style

	Label        lipgloss.Style
	Input        lipgloss.Style
	InputFocused lipgloss.Style
	Button       lipgloss.Style
	ButtonBusy   lipgloss.Style

	ToastSuccess lipgloss.Style
	ToastError   lipgloss.Style
	ToastInfo    lipgloss.Style
}

type palette struct {
	primary   lipgloss.Color
	secondary lipgloss.Color
	accent    lipgloss.Color
	text      lipgloss.Color
	muted     lipgloss.Color
	surface   lipgloss.Color
	success   lipgloss.Color
	danger    lipgloss.Color
}

// ThemeNames lists the built-in themes.
var ThemeNames = []string{"jungle", "neon", "classic"}

// ThemeByName returns the named theme, falling back to jungle.
func ThemeByName(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "neon":
		return newTheme("neon", "⚡ ChatNest ⚡", palette{
			primary:   lipgloss.Color("#FF2BD6"),
			secondary: lipgloss.Color("#00F0FF"),
			accent:    lipgloss.Color("#B026FF"),
			text:      lipgloss.Color("#F5F5FF"),
			muted:     lipgloss.Color("#7A6C9E"),
			surface:   lipgloss.Color("#1A0B2E"),
			success:   lipgloss.Color("#39FF14"),
			danger:    lipgloss.Color("#FF3864"),
		})
	case "classic":
		return newTheme("classic", "ChatNest", palette{
			primary:   lipgloss.Color("#3B82F6"),
			secondary: lipgloss.Color("#E5E7EB"),
			accent:    lipgloss.Color("#6366F1"),
			text:      lipgloss.Color("#F9FAFB"),
			muted:     lipgloss.Color("#9CA3AF"),
			surface:   lipgloss.Color("#374151"),
			success:   lipgloss.Color("#10B981"),
			danger:    lipgloss.Color("#EF4444"),
		})
	default:
		return newTheme("jungle", "🌴 ChatNest 🌿", palette{
			primary:   lipgloss.Color("#22C55E"),
			secondary: lipgloss.Color("#FBBF24"),
			accent:    lipgloss.Color("#84CC16"),
			text:      lipgloss.Color("#ECFDF5"),
			muted:     lipgloss.Color("#6B8F71"),
			surface:   lipgloss.Color("#14532D"),
			success:   lipgloss.Color("#4ADE80"),
			danger:    lipgloss.Color("#F87171"),
		})
	}
}

func newTheme(name, banner string, p palette) Theme {
	toast := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	return Theme{
		Name:   name,
		Banner: banner,

		App:      lipgloss.NewStyle().Padding(0, 1),
		Title:    lipgloss.NewStyle().Bold(true).Foreground(p.primary),
		Subtitle: lipgloss.NewStyle().Foreground(p.muted),
		Panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.primary).Padding(1, 2),

		OwnBubble:   lipgloss.NewStyle().Foreground(p.text).Background(p.primary).Padding(0, 1),
		OtherBubble: lipgloss.NewStyle().Foreground(p.text).Background(p.surface).Padding(0, 1),
		BotBubble:   lipgloss.NewStyle().Foreground(p.text).Background(p.accent).Padding(0, 1),
		Author:      lipgloss.NewStyle().Bold(true).Foreground(p.secondary),
		BotAuthor:   lipgloss.NewStyle().Bold(true).Foreground(p.accent),
		Timestamp:   lipgloss.NewStyle().Foreground(p.muted),

		Tip:    lipgloss.NewStyle().Italic(true).Foreground(p.secondary),
		Typing: lipgloss.NewStyle().Italic(true).Foreground(p.muted),
		Help:   lipgloss.NewStyle().Foreground(p.muted),

		Label:        lipgloss.NewStyle().Foreground(p.secondary),
		Input:        lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(p.muted).Padding(0, 1),
		InputFocused: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(p.primary).Padding(0, 1),
		Button:       lipgloss.NewStyle().Bold(true).Foreground(p.surface).Background(p.primary).Padding(0, 2),
		ButtonBusy:   lipgloss.NewStyle().Foreground(p.muted).Background(p.surface).Padding(0, 2),

		ToastSuccess: toast.BorderForeground(p.success).Foreground(p.success),
		ToastError:   toast.BorderForeground(p.danger).Foreground(p.danger),
		ToastInfo:    toast.BorderForeground(p.secondary).Foreground(p.secondary),
	}
}
