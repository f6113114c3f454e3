package cmd

import (
	"context"
	"fmt"
	"strings"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/store"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage saved sessions",
	Run: func(cmd *cobra.Command, args []string) {
		workspaceRoot, err := resolveWorkspaceRoot()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		listSessions(context.Background(), workspaceRoot)
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the stored transcript of a session",
	Args:  cobra.ExactArgs(1),
	Run:   showSession,
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a session and its logs",
	Args:  cobra.ExactArgs(1),
	Run:   removeSession,
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func showSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	ctx := context.Background()
	manifests, err := openManifests(workspaceRoot)
	if err != nil {
		fmt.Printf("Error opening sessions: %v\n", err)
		return
	}
	manifest, err := manifests.Get(ctx, sessionID)
	if err != nil {
		fmt.Printf("Error: session %q: %v\n", sessionID, err)
		return
	}

	sessionRoot, err := resolveSessionRoot(workspaceRoot)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	log, err := store.NewFileSessionLog(sessionRoot, sessionID, false)
	if err != nil {
		fmt.Printf("Error opening session log: %v\n", err)
		return
	}
	turns, err := log.Load(ctx, api.RootAgentID)
	if err != nil {
		fmt.Printf("Error reading session log: %v\n", err)
		return
	}

	fmt.Printf("\n📂 Session %s", manifest.SessionID)
	if manifest.Title != "" {
		fmt.Printf(" - %s", manifest.Title)
	}
	fmt.Printf("\n   %d turns, updated %s\n", manifest.Turns, manifest.UpdatedAt.Format("2006-01-02 15:04"))

	for i, turn := range turns {
		fmt.Printf("\n─── turn %d ───\n", i+1)
		fmt.Printf("💬 %s\n", turn.Input)
		for _, round := range turn.Rounds {
			if round.Response.Text != "" {
				fmt.Printf("🤖 %s\n", round.Response.Text)
			}
			for _, p := range round.Response.Proposals {
				fmt.Printf("   ▸ %s\n", describeProposal(p))
			}
			for _, r := range round.Results {
				fmt.Printf("   %s %s\n", resultGlyph(r.Status), firstLine(r.Content, 100))
			}
		}
	}
}

func removeSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	manifests, err := openManifests(workspaceRoot)
	if err != nil {
		fmt.Printf("Error opening sessions: %v\n", err)
		return
	}
	if err := manifests.Del(context.Background(), sessionID); err != nil {
		fmt.Printf("Error removing session %q: %v\n", sessionID, err)
		return
	}
	fmt.Printf("Removed session %s\n", sessionID)
}

func describeProposal(p api.ActionProposal) string {
	switch {
	case p.Execute != nil:
		return fmt.Sprintf("%s: %s", p.DisplayName(), firstLine(p.Execute.Source, 80))
	case p.Delegate != nil:
		return fmt.Sprintf("%s: %s", p.DisplayName(), firstLine(p.Delegate.Prompt, 80))
	default:
		return p.DisplayName()
	}
}

func resultGlyph(s api.ResultStatus) string {
	switch s {
	case api.ResultOK:
		return "✓"
	case api.ResultError:
		return "✗"
	case api.ResultRejected:
		return "⛔"
	case api.ResultTimeout:
		return "⏱"
	case api.ResultDiscarded:
		return "⊘"
	default:
		return "•"
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
