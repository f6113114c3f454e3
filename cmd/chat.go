package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"AgentCore/cmd/ui"
	"AgentCore/pkg/engine/store"

	"github.com/spf13/cobra"
)

var listSessionsFlag bool

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Start an interactive chat session",
	Args:  cobra.MaximumNArgs(1),
	Run:   runChat,
}

func init() {
	chatCmd.Flags().BoolVarP(&listSessionsFlag, "list", "l", false, "List all sessions")
	chatCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 0, "Model round budget per exchange (0 = engine default)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	ctx := context.Background()

	if listSessionsFlag {
		listSessions(ctx, workspaceRoot)
		return
	}

	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
		if !sessionExists(ctx, workspaceRoot, sessionID) {
			fmt.Printf("Session %q not found, starting a new one...\n", sessionID)
			sessionID = ""
		}
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	agent, err := newAgent(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error initializing agent: %v\n", err)
		return
	}
	defer agent.Close(context.Background())

	printChatBanner(sessionID)

	approver := ui.NewCLIApprover()
	state := &approvalState{}

	history, err := NewInputHistory(workspaceRoot)
	if err != nil {
		fmt.Printf("Warning: input history unavailable: %v\n", err)
	}
	var pastInputs []string
	if history != nil {
		if stored, err := history.Load(); err == nil {
			pastInputs = stored
		}
	}

	for {
		in, err := ui.ReadInput("\n💬 You: ", pastInputs)
		if err != nil {
			fmt.Printf("Input error: %v\n", err)
			return
		}
		if in.Cancelled {
			return
		}

		text := strings.TrimSpace(in.Value)
		if text == "" {
			continue
		}

		if len(pastInputs) == 0 || pastInputs[len(pastInputs)-1] != text {
			pastInputs = append(pastInputs, text)
			if history != nil {
				go func(t string) {
					_ = history.Append(t)
				}(text)
			}
		}

		switch strings.ToLower(text) {
		case "/quit", "/exit", "/q":
			fmt.Println("\nGoodbye.")
			return
		case "/help", "/?":
			fmt.Println("\nCommands:")
			for _, c := range ui.ChatCommands {
				fmt.Printf("  %-10s %s\n", c.Name, c.Description)
			}
			continue
		case "/sessions":
			listSessions(ctx, workspaceRoot)
			continue
		}

		if err := runExchange(ctx, agent, text, approver, state); err != nil {
			fmt.Printf("\n❌ Error: %v\n", err)
		}
	}
}

func sessionExists(ctx context.Context, workspaceRoot, sessionID string) bool {
	manifests, err := openManifests(workspaceRoot)
	if err != nil {
		return false
	}
	_, err = manifests.Get(ctx, sessionID)
	return err == nil
}

func listSessions(ctx context.Context, workspaceRoot string) {
	manifests, err := openManifests(workspaceRoot)
	if err != nil {
		fmt.Printf("Error opening sessions: %v\n", err)
		return
	}
	sessions, err := manifests.List(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	fmt.Println("\n📂 Sessions:")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		mode := s.ApprovalMode
		if mode == "" {
			mode = "suggest"
		}
		fmt.Printf("  %s - %d turns - %s - %s - %s\n", s.SessionID, s.Turns, mode, s.UpdatedAt.Format("2006-01-02 15:04"), title)
	}
	fmt.Println("\nResume with: agent chat <session-id>")
}

func printChatBanner(sessionID string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      🤖 AgentCore Chat                        ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Session: %-52s ║\n", sessionID)
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Commands:                                                    ║")
	fmt.Println("║    /sessions  List saved sessions                             ║")
	fmt.Println("║    /help      Show all commands                               ║")
	fmt.Println("║    /quit      Exit session                                    ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Tips:                                                        ║")
	fmt.Println("║    • Ctrl+J to insert newline, Enter to send                  ║")
	fmt.Println("║    • Esc Esc or Ctrl+C stops a running exchange               ║")
	fmt.Println("║    • Actions wait for your approval before running            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
}
