// Package config loads engine settings from agent.yaml with
// environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Duration
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Duration accepts "90s" style strings or bare seconds in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Config
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Config is the full engine configuration.
type Config struct {
	Model     ModelConfig    `yaml:"model"`
	Approval  ApprovalConfig `yaml:"approval"`
	Execution ExecConfig     `yaml:"execution"`
	Subagents SubagentConfig `yaml:"subagents"`
	Session   SessionConfig  `yaml:"session"`
	Log       LogConfig      `yaml:"log"`
}

// ModelConfig selects and parameterizes the language model.
type ModelConfig struct {
	// Provider is "openai" or "scripted". With an empty provider the
	// factory picks openai when an API key is present.
	Provider     string  `yaml:"provider"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Name         string  `yaml:"name"`
	Instructions string  `yaml:"instructions"`
	Temperature  float64 `yaml:"temperature"`
}

// ApprovalConfig governs the approval gate.
type ApprovalConfig struct {
	// Mode is suggest, auto, or full-auto.
	Mode string `yaml:"mode"`
	// Timeout bounds how long an approval may stay pending. Zero
	// means wait indefinitely.
	Timeout Duration `yaml:"timeout"`
}

// ExecConfig governs code execution sessions.
type ExecConfig struct {
	// Timeout bounds one execution, measured from the moment its
	// approval resolves. Zero means no limit.
	Timeout Duration `yaml:"timeout"`
	// Sandbox is an opaque isolation mode label passed through to the
	// execution backend and inherited by subagents.
	Sandbox string `yaml:"sandbox"`
}

// SubagentConfig governs delegation.
type SubagentConfig struct {
	// Max caps concurrently live subagents per parent.
	Max int `yaml:"max"`
	// DefaultTurns is the turn allowance for a delegation that does
	// not set its own.
	DefaultTurns int `yaml:"default_turns"`
}

// SessionConfig governs persistence.
type SessionConfig struct {
	// Root is the directory session data lives under. Empty means
	// the workspace root.
	Root string `yaml:"root"`
	// Fsync forces every append to stable storage.
	Fsync bool `yaml:"fsync"`
}

// LogConfig governs the diagnostic log.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when agent.yaml is absent.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Temperature: 0.2,
		},
		Approval: ApprovalConfig{
			Mode: "suggest",
		},
		Execution: ExecConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Subagents: SubagentConfig{
			Max:          5,
			DefaultTurns: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path and applies environment
// overrides. A missing file yields defaults so the binary runs
// without any setup.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv layers environment variables over file values. The LLM_*
// names match what deployments already export.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("AGENT_APPROVAL_MODE"); v != "" {
		c.Approval.Mode = v
	}
	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENT_MAX_SUBAGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Subagents.Max = n
		}
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Approval.Mode {
	case "suggest", "auto", "full-auto":
	default:
		return fmt.Errorf("invalid approval mode %q", c.Approval.Mode)
	}
	if c.Subagents.Max < 1 {
		return fmt.Errorf("subagents.max must be at least 1, got %d", c.Subagents.Max)
	}
	if c.Subagents.DefaultTurns < 1 {
		return fmt.Errorf("subagents.default_turns must be at least 1, got %d", c.Subagents.DefaultTurns)
	}
	if c.Approval.Timeout < 0 || c.Execution.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
