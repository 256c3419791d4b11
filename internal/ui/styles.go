package ui

import (
	"fmt"

	"github.com/RamXX/bmdash/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}

// Ayu palette.
var (
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	ColorGreen  = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#aad94c"}
	ColorYellow = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorRed    = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f26d78"}
	ColorDone   = lipgloss.AdaptiveColor{Light: "#9099a1", Dark: "#8090a0"}
	ColorEpic   = lipgloss.AdaptiveColor{Light: "#d2a6ff", Dark: "#d2a6ff"}
)

var (
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	EpicStyle   = lipgloss.NewStyle().Foreground(ColorEpic).Bold(true)

	GreenStyle  = lipgloss.NewStyle().Foreground(ColorGreen)
	YellowStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	RedStyle    = lipgloss.NewStyle().Foreground(ColorRed)
	DoneStyle   = lipgloss.NewStyle().Foreground(ColorDone)
)

// Status icons.
const (
	IconBacklog    = "○"
	IconReady      = "◌"
	IconInProgress = "◐"
	IconReview     = "◑"
	IconDone       = "✓"
	IconLight      = "●"
	IconUnknown    = "?"
)

// RenderStatusIcon returns the colored icon for a story status.
func RenderStatusIcon(s model.Status) string {
	switch {
	case s.IsDone():
		return DoneStyle.Render(IconDone)
	case s == model.StatusInProgress:
		return YellowStyle.Render(IconInProgress)
	case s == model.StatusReview:
		return AccentStyle.Render(IconReview)
	case s == model.StatusReadyForDev || s == model.StatusDrafted:
		return IconReady
	case s == model.StatusBacklog || s == model.StatusTodo:
		return IconBacklog
	default:
		return IconUnknown
	}
}

// RenderStatus renders a status string with coloring.
func RenderStatus(s model.Status) string {
	switch {
	case s.IsDone():
		return DoneStyle.Render(string(s))
	case s == model.StatusInProgress:
		return YellowStyle.Render(string(s))
	case s == model.StatusReview:
		return AccentStyle.Render(string(s))
	default:
		return string(s)
	}
}

// RenderLight renders a traffic light as a colored dot and its name.
func RenderLight(l model.Light) string {
	switch l {
	case model.LightGreen:
		return GreenStyle.Render(IconLight + " green")
	case model.LightYellow:
		return YellowStyle.Render(IconLight + " yellow")
	case model.LightRed:
		return RedStyle.Render(IconLight + " red")
	default:
		return MutedStyle.Render(IconUnknown + " unknown")
	}
}

// RenderSeverity renders a gap severity.
func RenderSeverity(s model.Severity) string {
	label := fmt.Sprintf("[%s]", s)
	switch s {
	case model.SeverityHigh:
		return RedStyle.Bold(true).Render(label)
	case model.SeverityMedium:
		return YellowStyle.Render(label)
	default:
		return MutedStyle.Render(label)
	}
}

// RenderProgress renders "done/total (pct%)" colored by completion.
func RenderProgress(p model.Progress) string {
	label := fmt.Sprintf("%d/%d (%d%%)", p.Done, p.Total, p.Percent())
	switch {
	case p.Total > 0 && p.Done == p.Total:
		return GreenStyle.Render(label)
	case p.Done > 0:
		return YellowStyle.Render(label)
	default:
		return label
	}
}

// RenderEpic renders an epic heading.
func RenderEpic(s string) string {
	return EpicStyle.Render(s)
}

// RenderMuted renders text in muted gray.
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderBold renders text in bold.
func RenderBold(s string) string {
	return BoldStyle.Render(s)
}

// RenderAccent renders text with accent color.
func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}

// RenderDoneLine renders an entire line dimmed.
func RenderDoneLine(line string) string {
	return DoneStyle.Render(line)
}
