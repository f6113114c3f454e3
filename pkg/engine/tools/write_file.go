package tools

import (
	"context"
	"os"
	"path/filepath"

	"AgentCore/pkg/engine/api"
)

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	BaseTool
	workspaceRoot string
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(workspaceRoot string) *WriteFileTool {
	return &WriteFileTool{
		BaseTool: NewBaseTool(
			"write_file",
			"Create or overwrite a file with the given content. Missing parent directories are created.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
				{Name: "content", Type: "string", Description: "Full content to write", Required: true},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := StringArg(args, "path", "")
	if path == "" {
		return errResultf("path is required"), nil
	}
	content := StringArg(args, "content", "")

	absPath, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errResult(err), nil
	}

	_, statErr := os.Stat(absPath)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return errResultf("create directory: %v", err), nil
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return errResult(err), nil
	}

	if existed {
		return okText("File overwritten: " + path), nil
	}
	return okText("File created: " + path), nil
}
