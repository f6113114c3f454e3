// Package ui renders the interactive chat surface: multiline input,
// the approval prompt, and the loading spinner.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputResult is one finished round of user input.
type InputResult struct {
	Value     string
	Submitted bool
	Cancelled bool
}

// Command is one slash command offered by the completion menu.
type Command struct {
	Name        string
	Description string
}

// ChatCommands are the slash commands the chat loop understands.
var ChatCommands = []Command{
	{"/sessions", "List saved sessions"},
	{"/help", "Show help"},
	{"/quit", "Quit the session"},
}

type inputModel struct {
	textarea  textarea.Model
	prompt    string
	submitted bool
	cancelled bool

	history    []string
	historyPos int // -1 when not browsing
	draft      string

	commands    []Command
	showMenu    bool
	selectedCmd int
}

func newInputModel(prompt, placeholder string) inputModel {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.Focus()

	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(true)

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return inputModel{
		textarea:   ta,
		prompt:     prompt,
		historyPos: -1,
	}
}

func (m inputModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showMenu {
			switch msg.Type {
			case tea.KeyUp:
				if m.selectedCmd > 0 {
					m.selectedCmd--
				}
				return m, nil
			case tea.KeyDown:
				if m.selectedCmd < len(m.commands)-1 {
					m.selectedCmd++
				}
				return m, nil
			case tea.KeyTab:
				if len(m.commands) > 0 {
					m.textarea.SetValue(m.commands[m.selectedCmd].Name + " ")
					m.showMenu = false
				}
				return m, nil
			case tea.KeyEnter:
				if len(m.commands) > 0 {
					m.textarea.SetValue(m.commands[m.selectedCmd].Name)
					m.submitted = true
					return m, tea.Quit
				}
			case tea.KeyEsc:
				m.showMenu = false
				return m, nil
			}
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			if m.textarea.Value() == "" {
				m.cancelled = true
				return m, tea.Quit
			}

		case tea.KeyEnter:
			// Plain Enter submits; Alt+Enter falls through to the
			// textarea as a newline.
			if !msg.Alt {
				m.submitted = true
				return m, tea.Quit
			}

		case tea.KeyCtrlJ:
			m.textarea.InsertString("\n")
			return m, nil

		case tea.KeyCtrlP:
			m.prevHistory()
			return m, nil

		case tea.KeyCtrlN:
			m.nextHistory()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.textarea.SetWidth(msg.Width - 10)
	}

	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)

	val := m.textarea.Value()
	if strings.HasPrefix(val, "/") && !strings.Contains(val, " ") {
		m.showMenu = true
		m.commands = matchCommands(ChatCommands, val)
		if m.selectedCmd >= len(m.commands) {
			m.selectedCmd = 0
		}
	} else {
		m.showMenu = false
	}

	return m, tea.Batch(cmds...)
}

func matchCommands(cmds []Command, prefix string) []Command {
	if prefix == "/" {
		return cmds
	}
	var out []Command
	for _, c := range cmds {
		if strings.HasPrefix(c.Name, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (m inputModel) View() string {
	var b strings.Builder

	if m.prompt != "" {
		b.WriteString(m.prompt)
	}
	b.WriteString(m.textarea.View())

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if m.showMenu && len(m.commands) > 0 {
		b.WriteString("\n")
		menuStyle := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

		var menu strings.Builder
		for i, cmd := range m.commands {
			if i == m.selectedCmd {
				menu.WriteString(lipgloss.NewStyle().
					Bold(true).
					Foreground(lipgloss.Color("86")).
					Render("> " + cmd.Name))
			} else {
				menu.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color("245")).
					Render("  " + cmd.Name))
			}
			menu.WriteString(dim.Render("  " + cmd.Description))
			if i < len(m.commands)-1 {
				menu.WriteString("\n")
			}
		}
		b.WriteString(menuStyle.Render(menu.String()))
		b.WriteString("\n")
		b.WriteString(dim.Render("↑↓ Select | Tab Complete | Enter Run | Esc Close"))
	} else {
		b.WriteString("\n")
		b.WriteString(dim.Render("Enter Submit | Ctrl+J Newline | Ctrl+P/Ctrl+N History | Ctrl+C Cancel"))
	}

	return b.String()
}

func (m *inputModel) prevHistory() {
	if len(m.history) == 0 {
		return
	}
	if m.historyPos == -1 {
		m.draft = m.textarea.Value()
		m.historyPos = len(m.history) - 1
	} else if m.historyPos > 0 {
		m.historyPos--
	}
	m.textarea.SetValue(m.history[m.historyPos])
}

func (m *inputModel) nextHistory() {
	if len(m.history) == 0 || m.historyPos == -1 {
		return
	}
	if m.historyPos < len(m.history)-1 {
		m.historyPos++
		m.textarea.SetValue(m.history[m.historyPos])
		return
	}
	m.historyPos = -1
	m.textarea.SetValue(m.draft)
}

// ReadInput reads one multiline input with earlier entries available
// through Ctrl+P and Ctrl+N.
func ReadInput(prompt string, history []string) (InputResult, error) {
	m := newInputModel(prompt, "Type a message...")
	m.history = append([]string(nil), history...)
	p := tea.NewProgram(m)

	finalModel, err := p.Run()
	if err != nil {
		return InputResult{}, fmt.Errorf("input error: %w", err)
	}

	result := finalModel.(inputModel)
	return InputResult{
		Value:     strings.TrimSpace(result.textarea.Value()),
		Submitted: result.submitted,
		Cancelled: result.cancelled,
	}, nil
}
