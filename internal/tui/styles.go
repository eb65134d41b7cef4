// Package tui renders a live view of a running loop: iteration
// progress, the story plan, and recent activity, driven by bus events.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Core color palette
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	TextColor      = lipgloss.Color("#F9FAFB") // Light text

	// Base styles
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)

	// Title style for the run header
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	// HelpKey style for key hints
	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextColor)
)
