package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders a story body with glamour, wrapping at the
// terminal width (at most 100 columns). Plain text is returned when color
// is off or rendering fails.
func RenderMarkdown(body string) string {
	if !ShouldUseColor() {
		return body
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(Width(80, 100)),
	)
	if err != nil {
		return body
	}
	out, err := r.Render(body)
	if err != nil {
		return body
	}
	return out
}
