package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/config"
	"AgentCore/pkg/engine/prompts"
	"AgentCore/pkg/engine/runtime"
	"AgentCore/pkg/engine/store"
	"AgentCore/pkg/engine/tools"

	"github.com/google/uuid"
)

// keylessFallback is what the scripted backend answers when no model
// endpoint is configured.
const keylessFallback = "No model endpoint is configured. Set LLM_API_KEY or model.api_key in agent.yaml."

// resolveWorkspaceRoot returns the directory file operations and
// session data live under, creating it if needed. The default is
// workspace/ below the current directory.
func resolveWorkspaceRoot() (string, error) {
	dir := workspaceFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		if realWD, err := filepath.EvalSymlinks(wd); err == nil {
			wd = realWD
		}
		dir = filepath.Join(wd, "workspace")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// configPath is agent.yaml next to the workspace directory.
func configPath(workspaceRoot string) string {
	return filepath.Join(filepath.Dir(workspaceRoot), "agent.yaml")
}

// loadConfig reads agent.yaml and layers the command-line flags on
// top of it.
func loadConfig(workspaceRoot string) (*config.Config, error) {
	cfg, err := config.Load(configPath(workspaceRoot))
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.Model.Name = modelFlag
	}
	if approvalModeFlag != "" {
		cfg.Approval.Mode = strings.ToLower(strings.TrimSpace(approvalModeFlag))
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// buildModel picks the model backend. Without an API key the scripted
// backend stands in so the binary stays usable for local inspection.
func buildModel(cfg *config.Config) runtime.Model {
	provider := strings.ToLower(strings.TrimSpace(cfg.Model.Provider))
	if provider == "" {
		if cfg.Model.APIKey != "" {
			provider = "openai"
		} else {
			provider = "scripted"
		}
	}
	switch provider {
	case "openai":
		return runtime.NewOpenAIModel(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)
	default:
		m := runtime.NewScriptedModel()
		m.FallbackText = keylessFallback
		return m
	}
}

// newAgent assembles one agent instance for the session.
func newAgent(workspaceRoot, sessionID string) (*runtime.AgentInstance, error) {
	cfg, err := loadConfig(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return buildAgent(workspaceRoot, sessionID, cfg, buildModel(cfg), func() runtime.Model {
		return buildModel(cfg)
	})
}

func buildAgent(workspaceRoot, sessionID string, cfg *config.Config, model runtime.Model, newModel func() runtime.Model) (*runtime.AgentInstance, error) {
	sessionRoot := cfg.Session.Root
	if sessionRoot == "" {
		sessionRoot = workspaceRoot
	}
	log, err := store.NewFileSessionLog(sessionRoot, sessionID, cfg.Session.Fsync)
	if err != nil {
		return nil, err
	}
	manifests, err := store.NewManifestStore(sessionRoot)
	if err != nil {
		return nil, err
	}

	return runtime.NewAgentInstance(runtime.AgentConfig{
		SessionID:       sessionID,
		Instructions:    prompts.Resolve(workspaceRoot, cfg.Model.Instructions),
		Temperature:     cfg.Model.Temperature,
		Model:           model,
		NewModel:        newModel,
		Tools:           tools.DefaultRegistry(workspaceRoot),
		Log:             log,
		Manifests:       manifests,
		ApprovalMode:    api.ApprovalMode(cfg.Approval.Mode),
		ApprovalTimeout: cfg.Approval.Timeout.Std(),
		ExecTimeout:     cfg.Execution.Timeout.Std(),
		WorkspaceRoot:   workspaceRoot,
		Sandbox:         cfg.Execution.Sandbox,
		MaxSubagents:    cfg.Subagents.Max,
		SubagentTurns:   cfg.Subagents.DefaultTurns,
		AllowDelegation: true,
	})
}

// resolveSessionRoot returns the directory session data lives under,
// honoring session.root from agent.yaml.
func resolveSessionRoot(workspaceRoot string) (string, error) {
	cfg, err := loadConfig(workspaceRoot)
	if err != nil {
		return "", err
	}
	if cfg.Session.Root != "" {
		return cfg.Session.Root, nil
	}
	return workspaceRoot, nil
}

// openManifests opens the manifest store under the same root buildAgent uses.
func openManifests(workspaceRoot string) (*store.ManifestStore, error) {
	root, err := resolveSessionRoot(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return store.NewManifestStore(root)
}

func newSessionID() string {
	return "sess-" + uuid.NewString()[:8]
}
