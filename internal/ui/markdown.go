package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownMaxWidth caps rendered markdown so prose stays readable on
// very wide terminals.
const markdownMaxWidth = 100

// RenderMarkdown renders markdown for terminal display. When styling is
// disabled or rendering fails, the raw text is returned unchanged so the
// content is never lost.
func RenderMarkdown(md string) string {
	if !ShouldUseColor() {
		return md
	}

	width := GetWidth()
	if width > markdownMaxWidth {
		width = markdownMaxWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}

	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
