package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"AgentCore/pkg/engine/api"
)

// GrepTool searches file contents for a pattern.
type GrepTool struct {
	BaseTool
	workspaceRoot string
	maxResults    int
	maxFileSize   int64
}

// NewGrepTool creates the grep tool.
func NewGrepTool(workspaceRoot string) *GrepTool {
	return &GrepTool{
		BaseTool: NewBaseTool(
			"grep",
			"Search file contents for a regex pattern. Returns matching lines as path:line: text.",
			[]ParameterDef{
				{Name: "pattern", Type: "string", Description: "Regex pattern; invalid regexes fall back to a literal search", Required: true},
				{Name: "path", Type: "string", Description: "File or directory to search, default workspace root", Required: false},
				{Name: "include", Type: "string", Description: "Filename glob to restrict the search, e.g. *.go", Required: false},
				{Name: "ignore_case", Type: "boolean", Description: "Case-insensitive search", Required: false},
			},
			api.RiskLow,
		),
		workspaceRoot: workspaceRoot,
		maxResults:    50,
		maxFileSize:   1024 * 1024,
	}
}

// grepMatch is one matching line.
type grepMatch struct {
	file    string
	line    int
	content string
}

func (t *GrepTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	pattern := StringArg(args, "pattern", "")
	if pattern == "" {
		return errResultf("pattern is required"), nil
	}
	searchPath := StringArg(args, "path", ".")
	include := StringArg(args, "include", "")
	ignoreCase := BoolArg(args, "ignore_case", false)

	absPath, err := resolveInWorkspace(t.workspaceRoot, searchPath)
	if err != nil {
		return errResult(err), nil
	}
	rootAbs, _ := filepath.Abs(t.workspaceRoot)

	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return errResultf("path not found: %s", searchPath), nil
	}

	var files []string
	if info.IsDir() {
		files, err = t.collectFiles(absPath, include)
		if err != nil {
			return errResult(err), nil
		}
	} else {
		files = []string{absPath}
	}

	var matches []grepMatch
	for _, file := range files {
		if len(matches) >= t.maxResults {
			break
		}
		fileMatches, err := t.searchFile(file, re)
		if err != nil {
			continue
		}
		matches = append(matches, fileMatches...)
	}

	if len(matches) == 0 {
		return okText("No matches found for pattern: " + pattern), nil
	}

	var out strings.Builder
	for i, m := range matches {
		if i >= t.maxResults {
			out.WriteString(fmt.Sprintf("\n... (showing first %d matches)", t.maxResults))
			break
		}
		rel, _ := filepath.Rel(rootAbs, m.file)
		out.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, m.line, strings.TrimSpace(m.content)))
	}
	return okText(out.String()), nil
}

// collectFiles gathers searchable files under dir, skipping hidden
// and dependency directories, oversized files, and known binaries.
func (t *GrepTool) collectFiles(dir, include string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			if name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > t.maxFileSize {
			return nil
		}
		if include != "" {
			if matched, _ := filepath.Match(include, info.Name()); !matched {
				return nil
			}
		}
		if isBinaryName(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func (t *GrepTool) searchFile(path string, re *regexp.Regexp) ([]grepMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []grepMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, grepMatch{file: path, line: lineNum, content: line})
			// Per-file cap keeps one noisy file from eating the budget.
			if len(matches) >= 10 {
				break
			}
		}
	}
	return matches, scanner.Err()
}

func isBinaryName(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bin", ".so", ".dylib",
		".png", ".jpg", ".jpeg", ".gif",
		".pdf", ".zip", ".tar", ".gz",
		".mp3", ".mp4", ".avi", ".mov",
		".woff", ".woff2", ".ttf", ".eot":
		return true
	}
	return false
}
