package tools

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"AgentCore/pkg/engine/api"
)

// GlobTool finds files matching a glob pattern.
type GlobTool struct {
	BaseTool
	workspaceRoot string
	maxResults    int
}

// NewGlobTool creates the glob tool.
func NewGlobTool(workspaceRoot string) *GlobTool {
	return &GlobTool{
		BaseTool: NewBaseTool(
			"glob",
			"Find files matching a glob pattern such as '**/*.go' or 'src/*.ts'. Returns workspace-relative paths.",
			[]ParameterDef{
				{Name: "pattern", Type: "string", Description: "Glob pattern; ** matches any number of directories", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search from, default workspace root", Required: false},
			},
			api.RiskLow,
		),
		workspaceRoot: workspaceRoot,
		maxResults:    100,
	}
}

func (t *GlobTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	pattern := StringArg(args, "pattern", "")
	if pattern == "" {
		return errResultf("pattern is required"), nil
	}
	basePath := StringArg(args, "path", ".")

	absBase, err := resolveInWorkspace(t.workspaceRoot, basePath)
	if err != nil {
		return errResult(err), nil
	}
	rootAbs, _ := filepath.Abs(t.workspaceRoot)

	var matches []string
	if strings.Contains(pattern, "**") {
		matches, err = t.walkGlob(absBase, pattern)
	} else {
		matches, err = filepath.Glob(filepath.Join(absBase, pattern))
	}
	if err != nil {
		return errResult(err), nil
	}

	var rel []string
	for _, m := range matches {
		r, err := filepath.Rel(rootAbs, m)
		if err != nil {
			r = m
		}
		rel = append(rel, r)
	}
	sort.Strings(rel)

	if len(rel) == 0 {
		return okText("No files found matching pattern: " + pattern), nil
	}
	if len(rel) > t.maxResults {
		return okText(strings.Join(rel[:t.maxResults], "\n") +
			"\n\n... (truncated, showing first " + strconv.Itoa(t.maxResults) + " results)"), nil
	}
	return okText(strings.Join(rel, "\n")), nil
}

// walkGlob handles ** patterns by walking the tree and matching the
// basename against the part after the **.
func (t *GlobTool) walkGlob(basePath, pattern string) ([]string, error) {
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := ""
	if len(parts) > 1 {
		suffix = strings.TrimPrefix(parts[1], "/")
		suffix = strings.TrimPrefix(suffix, string(filepath.Separator))
	}

	var matches []string
	err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && info.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(relPath, prefix) {
			return nil
		}
		if suffix != "" {
			if matched, _ := filepath.Match(suffix, filepath.Base(path)); !matched {
				return nil
			}
		}

		matches = append(matches, path)
		if len(matches) > t.maxResults*2 {
			return filepath.SkipAll
		}
		return nil
	})
	return matches, err
}
