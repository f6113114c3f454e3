package cmd

import (
	"fmt"
	"os"
	"time"

	"AgentCore/pkg/engine/config"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check agent.yaml and print the resolved configuration",
	Long: `Validate loads agent.yaml the way the engine does, with environment
overrides applied, and prints the settings a session would start with.
A missing file is fine: the engine runs on defaults.`,
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	path := configPath(workspaceRoot)
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("No config file at %s (defaults apply)\n", path)
	} else {
		fmt.Printf("Config file: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	provider := cfg.Model.Provider
	if provider == "" {
		if cfg.Model.APIKey != "" {
			provider = "openai (auto)"
		} else {
			provider = "scripted (no API key)"
		}
	}
	key := "not set"
	if cfg.Model.APIKey != "" {
		key = "set"
	}

	fmt.Println("\nResolved settings:")
	fmt.Printf("  model.provider      %s\n", provider)
	fmt.Printf("  model.name          %s\n", orDefault(cfg.Model.Name, "(provider default)"))
	fmt.Printf("  model.api_key       %s\n", key)
	fmt.Printf("  model.temperature   %.2f\n", cfg.Model.Temperature)
	fmt.Printf("  approval.mode       %s\n", cfg.Approval.Mode)
	fmt.Printf("  approval.timeout    %s\n", orDuration(cfg.Approval.Timeout.Std(), "none"))
	fmt.Printf("  execution.timeout   %s\n", orDuration(cfg.Execution.Timeout.Std(), "none"))
	fmt.Printf("  execution.sandbox   %s\n", orDefault(cfg.Execution.Sandbox, "(none)"))
	fmt.Printf("  subagents.max       %d\n", cfg.Subagents.Max)
	fmt.Printf("  subagents.turns     %d\n", cfg.Subagents.DefaultTurns)
	fmt.Printf("  session.root        %s\n", orDefault(cfg.Session.Root, "(workspace)"))
	fmt.Printf("  session.fsync       %t\n", cfg.Session.Fsync)
	fmt.Printf("  log.level           %s\n", cfg.Log.Level)

	fmt.Println("\n✅ Configuration is valid.")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDuration(d time.Duration, zero string) string {
	if d == 0 {
		return zero
	}
	return d.String()
}
