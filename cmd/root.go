package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"AgentCore/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Global flags
var (
	modelFlag        string
	approvalModeFlag string
	workspaceFlag    string
	maxTurnsFlag     int
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "AgentCore - a turn engine for model-driven action execution",
	Long: `AgentCore runs a conversational agent that proposes actions,
waits for your approval, executes them, and feeds the results back to
the model until your request is done.

Global Flags:
  --model          Model name for the configured endpoint
  --approval-mode  suggest | auto | full-auto
  --workspace      Directory for files, sessions, and logs

Smart Invocation:
  A binary or symlink named "chat" starts chat mode directly.
  Running "agent" with no arguments also starts chat mode.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model name (e.g. gpt-4o-mini)")
	rootCmd.PersistentFlags().StringVar(&approvalModeFlag, "approval-mode", "", "suggest | auto | full-auto")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace directory (default: ./workspace)")
}

// Execute routes to the right command, with chat as the default for
// interactive invocations.
func Execute() {
	// .env before anything reads the environment.
	_ = godotenv.Load()

	logPath := filepath.Join("workspace", "logs", time.Now().Format("20060102")+".log")
	level := logger.ParseLevel(os.Getenv("AGENT_LOG_LEVEL"))
	if err := logger.Init(logPath, level, "agent-core"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	logger.Info("System", "AgentCore starting", map[string]interface{}{
		"os": runtime.GOOS,
	})

	progName := strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")

	switch progName {
	case "chat":
		runDefaultChat()

	default:
		if len(os.Args) == 1 {
			runDefaultChat()
			return
		}
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

// runDefaultChat injects the chat subcommand so flag parsing still
// happens through cobra.
func runDefaultChat() {
	os.Args = append([]string{os.Args[0], "chat"}, os.Args[1:]...)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
