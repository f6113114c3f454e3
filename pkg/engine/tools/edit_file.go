package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentCore/pkg/engine/api"
)

// EditFileTool replaces one exact text occurrence in an existing file.
type EditFileTool struct {
	BaseTool
	workspaceRoot string
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(workspaceRoot string) *EditFileTool {
	return &EditFileTool{
		BaseTool: NewBaseTool(
			"edit_file",
			"Replace exact text in an existing file. More precise than write_file for small changes; old_text must match exactly and occur once.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
				{Name: "old_text", Type: "string", Description: "Exact text to find, including whitespace", Required: true},
				{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := StringArg(args, "path", "")
	if path == "" {
		return errResultf("path is required"), nil
	}
	oldText := StringArg(args, "old_text", "")
	if oldText == "" {
		return errResultf("old_text is required"), nil
	}
	newText := StringArg(args, "new_text", "")

	absPath, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errResult(err), nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResultf("file does not exist: %s", path), nil
		}
		return errResult(err), nil
	}
	content := string(data)

	switch n := strings.Count(content, oldText); {
	case n == 0:
		return errResultf("old_text not found in %s; it must match exactly, including whitespace", path), nil
	case n > 1:
		return errResultf("old_text occurs %d times in %s; include more context to make it unique", n, path), nil
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(updated), 0o644); err != nil {
		return errResult(err), nil
	}

	return okText(fmt.Sprintf("File edited: %s (replaced %d bytes with %d)", path, len(oldText), len(newText))), nil
}
