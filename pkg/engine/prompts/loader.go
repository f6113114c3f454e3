// Package prompts resolves the instruction text an agent instance
// runs with.
package prompts

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
)

//go:embed instructions.md
var builtinInstructions string

const (
	// InstructionsFile replaces the built-in instructions when it
	// exists in the workspace.
	InstructionsFile = "instructions.md"
	// PersonaFile is appended after the instructions. It restyles the
	// agent without touching its operating rules.
	PersonaFile = "persona.md"
)

// Resolve layers the instruction sources for one agent instance:
// the built-in text, replaced by a workspace instructions.md if one
// exists, then a workspace persona.md, then extra text from the
// configuration.
func Resolve(workspaceRoot, extra string) string {
	base := strings.TrimSpace(builtinInstructions)
	if custom := readWorkspaceFile(workspaceRoot, InstructionsFile); custom != "" {
		base = custom
	}

	parts := []string{base}
	if persona := readWorkspaceFile(workspaceRoot, PersonaFile); persona != "" {
		parts = append(parts, persona)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n")
}

func readWorkspaceFile(workspaceRoot, name string) string {
	if workspaceRoot == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(workspaceRoot, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
