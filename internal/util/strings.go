// Package util provides small shared helpers used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens a string to maxLen runes, appending "..." when truncated.
// It does not account for ANSI escape codes or wide characters; for styled
// terminal output use TruncateANSI instead.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI shortens a string to maxWidth visual columns, appending "..."
// when truncated. Escape sequences and wide characters are handled correctly,
// so it is safe for lipgloss-styled output.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// FirstLine returns the first line of s with surrounding whitespace removed.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
