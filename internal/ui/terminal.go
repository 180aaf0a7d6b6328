// Package ui renders tascade CLI output: styled tables, state icons,
// markdown, and the terminal probes that decide when to use them.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether stdout is attached to a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor reports whether output should carry ANSI color.
// NO_COLOR (https://no-color.org/) and CLICOLOR=0 disable it,
// CLICOLOR_FORCE overrides the TTY check, and piped output stays plain.
func ShouldUseColor() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("CLICOLOR") == "0":
		return false
	case os.Getenv("CLICOLOR_FORCE") != "":
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji reports whether state icons should render as emoji.
// Piped output always gets the plain forms so scripts can parse it;
// TASCADE_NO_EMOJI forces plain in a TTY too.
func ShouldUseEmoji() bool {
	if os.Getenv("TASCADE_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}

// GetWidth returns the terminal width, falling back to 80 columns when
// stdout is not a TTY.
func GetWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}
