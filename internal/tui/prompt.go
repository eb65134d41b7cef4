package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// promptModel collects a single line of input.
type promptModel struct {
	input    textinput.Model
	label    string
	done     bool
	canceled bool
}

func newPromptModel(label, placeholder string) promptModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 0
	ti.Width = 60
	return promptModel{input: ti, label: label}
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || m.canceled {
		return ""
	}
	return Title.Render(m.label) + "\n" + m.input.View() + "\n" + Muted.Render("enter to confirm, esc to cancel") + "\n"
}

// Prompt asks the user for one line of input on the terminal. It returns
// an empty string when the user cancels.
func Prompt(label, placeholder string) (string, error) {
	p := tea.NewProgram(newPromptModel(label, placeholder))
	out, err := p.Run()
	if err != nil {
		return "", err
	}
	m := out.(promptModel)
	if m.canceled {
		return "", nil
	}
	return strings.TrimSpace(m.input.Value()), nil
}
