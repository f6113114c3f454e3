package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentCore/cmd/ui"

	"github.com/spf13/cobra"
)

var runSessionFlag string

var runCmd = &cobra.Command{
	Use:   "run <prompt...>",
	Short: "Run a single exchange and exit",
	Long: `Run sends one prompt through the engine, streams the result to the
terminal, and exits. Actions still go through the approval flow unless
--approval-mode relaxes it. Use --session to continue an existing session.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runSessionFlag, "session", "", "Session ID to continue (default: new session)")
	runCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 0, "Model round budget for this exchange (0 = engine default)")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		fmt.Println("Error: empty prompt")
		os.Exit(1)
	}

	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	sessionID := runSessionFlag
	if sessionID != "" && !sessionExists(ctx, workspaceRoot, sessionID) {
		fmt.Printf("Error: session %q not found\n", sessionID)
		os.Exit(1)
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	agent, err := newAgent(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error initializing agent: %v\n", err)
		os.Exit(1)
	}

	approver := ui.NewCLIApprover()
	runErr := runExchange(ctx, agent, prompt, approver, &approvalState{})
	agent.Close(context.Background())

	if runErr != nil {
		fmt.Printf("\n❌ Error: %v\n", runErr)
		os.Exit(1)
	}
	fmt.Printf("\n\nSession saved: %s\n", sessionID)
}
