package cmd

import (
	"context"
	"fmt"

	"AgentCore/cmd/ui"
	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/runtime"

	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted exchange against the real engine",
	Long: `Demo drives one canned exchange through the full pipeline: a scripted
model proposes a shell command, the approval flow gates it, the command
runs in the local execution session, and the turn is persisted like any
other. No API key needed.`,
	Run: runDemo,
}

func init() {
	demoCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 0, "Model round budget for the demo exchange (0 = engine default)")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	cfg, err := loadConfig(workspaceRoot)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	model := runtime.NewScriptedModel(
		runtime.ScriptedStep{
			Thoughts: "A quick arithmetic check through the shell will do.",
			Text:     "Let me compute that.",
			Proposals: []api.ActionProposal{{
				Kind:    api.ProposalExecute,
				Execute: &api.ExecuteProposal{Language: "sh", Source: "echo $((2+2))"},
			}},
		},
		runtime.ScriptedStep{
			Text: "The result is 4.",
		},
	)
	model.FallbackText = "Demo script finished."

	sessionID := newSessionID()
	agent, err := buildAgent(workspaceRoot, sessionID, cfg, model, nil)
	if err != nil {
		fmt.Printf("Error initializing agent: %v\n", err)
		return
	}
	defer agent.Close(context.Background())

	fmt.Println("Running the demo exchange. The proposed command waits for your approval.")

	approver := ui.NewCLIApprover()
	if err := runExchange(context.Background(), agent, "What is 2+2? Check with the shell.", approver, &approvalState{}); err != nil {
		fmt.Printf("\n❌ Error: %v\n", err)
		return
	}

	fmt.Printf("\n\nSession saved: %s (inspect with: agent sessions show %s)\n", sessionID, sessionID)
}
