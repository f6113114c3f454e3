package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"AgentCore/pkg/engine/api"
)

// ListDirTool lists the entries of a directory.
type ListDirTool struct {
	BaseTool
	workspaceRoot string
}

// NewListDirTool creates the list_dir tool.
func NewListDirTool(workspaceRoot string) *ListDirTool {
	return &ListDirTool{
		BaseTool: NewBaseTool(
			"list_dir",
			"List the files and directories at a path. Directories are marked with a trailing slash.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "Directory path, relative to the workspace", Required: true},
				{Name: "all", Type: "boolean", Description: "Include entries starting with a dot", Required: false},
			},
			api.RiskLow,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := StringArg(args, "path", ".")
	showAll := BoolArg(args, "all", false)

	absPath, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errResult(err), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResultf("path does not exist: %s", path), nil
		}
		return errResult(err), nil
	}
	if !info.IsDir() {
		return okText(formatEntry(path, info)), nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return errResult(err), nil
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if !showAll && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s (error: %v)", name, err))
			continue
		}
		lines = append(lines, formatEntry(name, info))
	}
	sort.Strings(lines)

	if len(lines) == 0 {
		return okText("(empty directory)"), nil
	}
	return okText(strings.Join(lines, "\n")), nil
}

func formatEntry(name string, info os.FileInfo) string {
	if info.IsDir() {
		return name + "/"
	}
	return fmt.Sprintf("%s (%s)", name, formatSize(info.Size()))
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
