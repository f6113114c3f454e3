package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold agent.yaml and workspace templates",
	Run: func(cmd *cobra.Command, args []string) {
		workspaceRoot, err := resolveWorkspaceRoot()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		res, err := InitWorkspaceFiles(workspaceRoot)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		report := func(path string, created bool) {
			if created {
				fmt.Printf("  created %s\n", path)
			} else {
				fmt.Printf("  kept    %s\n", path)
			}
		}
		report(res.ConfigPath, res.ConfigCreated)
		report(res.PersonaPath, res.PersonaCreated)
		report(res.EnvExamplePath, res.EnvExampleCreated)
		fmt.Println("\nNext: put your key in .env (copy .env.example) and run `agent chat`.")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// InitResult reports which scaffold files an init call created.
type InitResult struct {
	ConfigPath     string
	PersonaPath    string
	EnvExamplePath string

	ConfigCreated     bool
	PersonaCreated    bool
	EnvExampleCreated bool
}

// InitWorkspaceFiles writes starter files for a new project. It never
// overwrites: existing files are left alone and reported as kept.
//
//   - <project>/agent.yaml      engine configuration
//   - <workspace>/persona.md    style layer appended to the instructions
//   - <project>/.env.example    environment template (copy to .env)
func InitWorkspaceFiles(workspaceRoot string) (InitResult, error) {
	projectRoot := filepath.Dir(workspaceRoot)

	res := InitResult{
		ConfigPath:     filepath.Join(projectRoot, "agent.yaml"),
		PersonaPath:    filepath.Join(workspaceRoot, "persona.md"),
		EnvExamplePath: filepath.Join(projectRoot, ".env.example"),
	}

	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return res, fmt.Errorf("create workspace dir: %w", err)
	}

	var err error
	if res.ConfigCreated, err = writeFileIfMissing(res.ConfigPath, defaultConfigTemplate()); err != nil {
		return res, err
	}
	if res.PersonaCreated, err = writeFileIfMissing(res.PersonaPath, defaultPersonaTemplate()); err != nil {
		return res, err
	}
	if res.EnvExampleCreated, err = writeFileIfMissing(res.EnvExamplePath, defaultEnvTemplate()); err != nil {
		return res, err
	}
	return res, nil
}

func writeFileIfMissing(path string, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func defaultConfigTemplate() string {
	return `# Engine configuration. Environment variables override these values;
# see .env.example for the recognized names.

model:
  # provider: openai        # empty picks openai when an API key is set
  # base_url: https://api.openai.com/v1
  # api_key: ""             # prefer LLM_API_KEY in .env
  name: gpt-4o-mini
  temperature: 0.2
  # instructions: ""        # extra system prompt text, appended last

approval:
  mode: suggest             # suggest | auto | full-auto
  # timeout: 120s           # pending approvals fail after this; 0 waits forever

execution:
  timeout: 5m               # per action, measured from approval
  # sandbox: ""             # isolation label passed to the execution backend

subagents:
  max: 5                    # concurrently live children
  default_turns: 10         # round budget per delegation

session:
  # root: ""                # session data directory; empty = workspace
  # fsync: false

log:
  level: info               # debug | info | warn | error
`
}

func defaultPersonaTemplate() string {
	return `# Persona

This file restyles the agent without touching its operating rules. It is
appended to the built-in instructions on every session.

## Style
- Be concise and direct.
- Prefer commands and file paths over prose descriptions.
`
}

func defaultEnvTemplate() string {
	return `# Copy to .env; values here override agent.yaml.
LLM_API_KEY=
# LLM_BASE_URL=https://api.openai.com/v1
# LLM_MODEL=gpt-4o-mini
# AGENT_APPROVAL_MODE=suggest
# AGENT_LOG_LEVEL=info
# AGENT_MAX_SUBAGENTS=5
`
}
