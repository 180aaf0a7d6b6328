package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Palette. Adaptive pairs keep output readable on light and dark terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "203"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "243"}
)

var (
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

// Icons used in human-readable output. Gated by ShouldUseEmoji so piped
// output stays plain.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

func RenderAccent(s string) string { return render(AccentStyle, s) }
func RenderPass(s string) string   { return render(PassStyle, s) }
func RenderWarn(s string) string   { return render(WarnStyle, s) }
func RenderFail(s string) string   { return render(FailStyle, s) }
func RenderMuted(s string) string  { return render(MutedStyle, s) }
func RenderBold(s string) string   { return render(BoldStyle, s) }

// RenderID styles a task or project reference like P1.M2.T3.
func RenderID(id string) string {
	return render(AccentStyle.Bold(true), id)
}

// RenderPriority renders a priority tag. P0 is urgent, P1 elevated,
// P3 and below fade into the background.
func RenderPriority(p int) string {
	tag := fmt.Sprintf("P%d", p)
	switch {
	case p <= 0:
		return RenderFail(tag)
	case p == 1:
		return RenderWarn(tag)
	case p >= 3:
		return RenderMuted(tag)
	}
	return tag
}

// StateStyle maps a task state to its display style. Implemented work is
// highlighted as pending because it still needs gates and integration.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return PassStyle
	case "reserved", "claimed", "in_progress":
		return AccentStyle
	case "implemented":
		return WarnStyle
	case "integrated":
		return PassStyle
	case "blocked", "conflict":
		return FailStyle
	default:
		return MutedStyle
	}
}

// RenderState renders a task state in its state color.
func RenderState(state string) string {
	return render(StateStyle(state), state)
}

// StateIcon returns a one-character marker for a task state.
func StateIcon(state string) string {
	switch state {
	case "backlog":
		return "·"
	case "ready":
		return "○"
	case "reserved", "claimed":
		return "◌"
	case "in_progress":
		return "◐"
	case "implemented":
		return "◑"
	case "integrated":
		return "●"
	case "blocked", "conflict":
		return "✗"
	default:
		return "-"
	}
}

// RenderVerdict renders a gate verdict in its outcome color.
func RenderVerdict(v string) string {
	switch v {
	case "approved":
		return RenderPass(v)
	case "approved_with_risk":
		return RenderWarn(v)
	case "rejected":
		return RenderFail(v)
	}
	return v
}
