package ui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"AgentCore/pkg/engine/api"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// CLIApprover puts approval requests to the user on the terminal.
type CLIApprover struct {
	Reader *bufio.Reader
}

func NewCLIApprover() *CLIApprover {
	return &CLIApprover{
		Reader: bufio.NewReader(os.Stdin),
	}
}

// Ask presents one approval request and returns the decision plus
// whether every later request in this session should be approved
// without asking.
func (c *CLIApprover) Ask(ctx context.Context, req api.ApprovalPayload) (bool, bool, error) {
	fmt.Println()
	fmt.Println("\033[33m╭──────────────────────────────────────────────────────────╮\033[0m")
	fmt.Println("\033[33m│\033[0m  \033[1;33m⚠️  Action Requires Approval\033[0m                             \033[33m│\033[0m")
	fmt.Println("\033[33m╰──────────────────────────────────────────────────────────╯\033[0m")
	fmt.Println()

	printActionPreview(req)
	fmt.Println()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return c.interactive(req)
	}
	return c.plain(req)
}

// printActionPreview shows what would run. Code and delegation
// proposals get their full body; tool calls get their arguments.
func printActionPreview(req api.ApprovalPayload) {
	switch req.ToolName {
	case api.FuncExecuteCode:
		language, _ := req.Args["language"].(string)
		if language == "" {
			language = "sh"
		}
		source, _ := req.Args["source"].(string)
		fmt.Printf("\033[1mRun %s code:\033[0m\n", language)
		for _, line := range strings.Split(strings.TrimRight(source, "\n"), "\n") {
			fmt.Printf("  \033[36m%s\033[0m\n", line)
		}

	case api.FuncDelegateTask:
		prompt, _ := req.Args["prompt"].(string)
		fmt.Println("\033[1mDelegate to a subagent:\033[0m")
		fmt.Printf("  %s\n", prompt)

	default:
		fmt.Printf("\033[1mTool:\033[0m %s\n", req.ToolName)
		if len(req.Args) > 0 {
			fmt.Println("\033[1mArguments:\033[0m")
			for k, v := range req.Args {
				vStr := fmt.Sprintf("%v", v)
				if len(vStr) > 100 {
					vStr = vStr[:100] + "..."
				}
				fmt.Printf("  %s: %s\n", k, vStr)
			}
		}
	}
}

func (c *CLIApprover) interactive(req api.ApprovalPayload) (bool, bool, error) {
	p := tea.NewProgram(newApprovalModel())

	finalModel, err := p.Run()
	if err != nil {
		return c.plain(req)
	}

	m, ok := finalModel.(approvalModel)
	if !ok || m.cancelled {
		fmt.Println("\033[31m✗ Rejected\033[0m")
		return false, false, nil
	}
	return c.announce(m.selected)
}

type approvalModel struct {
	options   []string
	selected  int
	cancelled bool
	chosen    bool
}

func newApprovalModel() approvalModel {
	return approvalModel{
		options: []string{"Approve", "Reject", "Approve all"},
	}
}

func (m approvalModel) Init() tea.Cmd {
	return nil
}

func (m approvalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			} else {
				m.selected = len(m.options) - 1
			}
		case "down", "j":
			if m.selected < len(m.options)-1 {
				m.selected++
			} else {
				m.selected = 0
			}
		case "enter":
			m.chosen = true
			return m, tea.Quit
		case "a", "A":
			m.selected = 0
			m.chosen = true
			return m, tea.Quit
		case "r", "R":
			m.selected = 1
			m.chosen = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m approvalModel) View() string {
	var b strings.Builder
	for i, opt := range m.options {
		if m.selected != i {
			b.WriteString(fmt.Sprintf("  \033[2m☐ %s\033[0m\n", opt))
			continue
		}
		color := "32" // approve green
		switch i {
		case 1:
			color = "31" // reject red
		case 2:
			color = "34" // approve-all blue
		}
		b.WriteString(fmt.Sprintf("❯ \033[1;%sm☑ %s\033[0m\n", color, opt))
	}
	return b.String()
}

func (c *CLIApprover) announce(selected int) (bool, bool, error) {
	switch selected {
	case 0:
		fmt.Println("\033[32m✓ Approved\033[0m")
		return true, false, nil
	case 1:
		fmt.Println("\033[31m✗ Rejected\033[0m")
		return false, false, nil
	case 2:
		fmt.Println("\033[34m✓ Approving all further actions\033[0m")
		return true, true, nil
	}
	return false, false, nil
}

// plain is the prompt for non-interactive terminals and pipes.
func (c *CLIApprover) plain(req api.ApprovalPayload) (bool, bool, error) {
	fmt.Println("  (A)pprove  |  (R)eject  |  Approve (all)")
	fmt.Print("\nChoice [A/r/all]: ")

	input, err := c.Reader.ReadString('\n')
	if err != nil {
		return false, false, err
	}

	switch strings.TrimSpace(strings.ToLower(input)) {
	case "", "a", "approve", "y", "yes":
		return c.announce(0)
	case "r", "reject", "n", "no":
		return c.announce(1)
	case "all", "auto":
		return c.announce(2)
	default:
		fmt.Println("\033[33m? Unrecognized choice, approving\033[0m")
		return true, false, nil
	}
}
