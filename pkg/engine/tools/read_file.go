package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentCore/pkg/engine/api"
)

// maxReadBytes bounds how much of a file read_file returns at once.
const maxReadBytes = 500 * 1024

// ReadFileTool returns file contents, optionally a line range.
type ReadFileTool struct {
	BaseTool
	workspaceRoot string
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(workspaceRoot string) *ReadFileTool {
	return &ReadFileTool{
		BaseTool: NewBaseTool(
			"read_file",
			"Read the contents of a file in the workspace. Large files are truncated; use start_line and end_line to read a slice.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
				{Name: "start_line", Type: "integer", Description: "First line to return, 1-indexed", Required: false},
				{Name: "end_line", Type: "integer", Description: "Last line to return, inclusive", Required: false},
			},
			api.RiskLow,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := StringArg(args, "path", "")
	if path == "" {
		return errResultf("path is required"), nil
	}
	startLine := IntArg(args, "start_line", 0)
	endLine := IntArg(args, "end_line", 0)

	absPath, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errResult(err), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResultf("file does not exist: %s", path), nil
		}
		return errResult(err), nil
	}
	if info.IsDir() {
		return errResultf("path is a directory, not a file: %s", path), nil
	}
	if info.Size() > maxReadBytes && startLine == 0 && endLine == 0 {
		return errResultf("file is too large (%s); use start_line and end_line to read a slice", formatSize(info.Size())), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return errResult(err), nil
	}

	if startLine > 0 || endLine > 0 {
		return t.readSlice(string(content), startLine, endLine)
	}

	text := string(content)
	if int64(len(content)) > maxReadBytes {
		text = text[:maxReadBytes] + "\n\n... (content truncated)"
	}
	return okText(text), nil
}

// readSlice returns the requested line range with line numbers.
func (t *ReadFileTool) readSlice(content string, startLine, endLine int) (api.ToolResult, error) {
	lines := strings.Split(content, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return errResultf("start_line (%d) exceeds file length (%d lines)", startLine, len(lines)), nil
	}

	var out strings.Builder
	for i, line := range lines[startLine-1 : endLine] {
		out.WriteString(fmt.Sprintf("%4d: %s\n", startLine+i, line))
	}
	return okText(out.String()), nil
}
