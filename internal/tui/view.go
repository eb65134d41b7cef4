package tui

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/util"
)

// View renders the full run display.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if len(m.stories) > 0 {
		b.WriteString(m.renderStories())
		b.WriteString("\n")
	}

	if len(m.activity) > 0 {
		b.WriteString(m.renderActivity())
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

// renderHeader shows the run identity and iteration progress.
func (m Model) renderHeader() string {
	var b strings.Builder

	icon := Primary.Render("∞")
	label := "Iterating"
	if m.finished {
		if m.result.Completed {
			icon = Secondary.Render("✓")
			label = "Complete"
		} else {
			icon = Warning.Render("⚠")
			label = "Budget exhausted"
		}
		if m.runErr != nil {
			icon = Error.Render("✗")
			label = "Failed"
		}
	}

	fmt.Fprintf(&b, "%s %s %s\n", icon, Title.Render("ralphloop"), Muted.Render(m.runID))

	iteration := m.iteration
	if iteration == 0 {
		iteration = 1
	}
	status := fmt.Sprintf("%s | Iteration %d/%d | Promise: %s", label, iteration, m.maxIterations, m.marker)
	b.WriteString(util.TruncateANSI(status, m.width))
	b.WriteString("\n")

	if m.goal != "" {
		b.WriteString(Muted.Render(util.Truncate(m.goal, m.width-2)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderStories shows the plan checklist with per-story status icons.
func (m Model) renderStories() string {
	var b strings.Builder
	b.WriteString(Title.Render("Stories"))
	b.WriteString("\n")

	for _, s := range m.stories {
		var icon string
		switch s.status {
		case loop.StatusCompleted:
			icon = Secondary.Render("✓")
		case loop.StatusInProgress:
			icon = m.spin.View()
		default:
			icon = Muted.Render("·")
		}

		title := s.title
		if title == "" {
			title = s.id
		}
		line := fmt.Sprintf("  %s %s", icon, title)
		if s.id == m.activeStoryID && !m.finished {
			line = fmt.Sprintf("  %s %s", icon, Primary.Render(title))
		}
		b.WriteString(util.TruncateANSI(line, m.width))
		b.WriteString("\n")
	}
	return b.String()
}

// renderActivity shows the most recent progress lines.
func (m Model) renderActivity() string {
	var b strings.Builder
	b.WriteString(Title.Render("Activity"))
	b.WriteString("\n")
	for _, line := range m.activity {
		b.WriteString(Muted.Render("  " + util.Truncate(line, m.width-2)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderFooter shows the key hint, or the final outcome once done.
func (m Model) renderFooter() string {
	if m.finished {
		if m.runErr != nil {
			return Error.Render(fmt.Sprintf("run failed: %v", m.runErr)) + "\n"
		}
		verdict := "did not complete within budget"
		if m.result.Completed {
			verdict = "completed"
		}
		detected := "promise absent"
		if m.result.CompletionDetected {
			detected = "promise detected"
		}
		return fmt.Sprintf("Run %s after %d iterations (%s)\n", verdict, m.result.IterationsUsed, detected)
	}
	return HelpKey.Render("[q]") + Muted.Render(" quit") + "\n"
}
