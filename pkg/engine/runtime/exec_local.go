package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"AgentCore/pkg/logger"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Local Execution Session
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

const maxExecOutputBytes = 100 * 1024

// LocalExecSession runs proposals as subprocesses on the host. The sandbox
// label travels with the session for audit but buys no isolation beyond a
// scratch directory; stronger confinement needs an external backend.
type LocalExecSession struct {
	workDir string
	sandbox string

	mu      sync.Mutex // one execution at a time
	scratch string
	runs    int
}

func NewLocalExecSession(workDir, sandbox string) *LocalExecSession {
	return &LocalExecSession{workDir: workDir, sandbox: sandbox}
}

// Start creates the session's scratch directory. Executions expose it to
// the running code as AGENT_ARTIFACTS_DIR.
func (s *LocalExecSession) Start(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "agent-exec-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	s.mu.Lock()
	s.scratch = dir
	s.mu.Unlock()
	logger.Debug("Exec", "Execution session started", map[string]interface{}{
		"scratch": dir,
		"sandbox": s.sandbox,
	})
	return nil
}

// Stop removes the scratch directory and everything produced into it.
func (s *LocalExecSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	dir := s.scratch
	s.scratch = ""
	s.mu.Unlock()
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func (s *LocalExecSession) Run(ctx context.Context, language, source string, cb ExecCallbacks) (ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	argv, err := commandFor(language, source)
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}

	runDir := ""
	if s.scratch != "" {
		s.runs++
		runDir = filepath.Join(s.scratch, fmt.Sprintf("run-%d", s.runs))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return ExecResult{ExitCode: -1}, fmt.Errorf("create run dir: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.workDir
	cmd.Env = os.Environ()
	if runDir != "" {
		cmd.Env = append(cmd.Env, "AGENT_ARTIFACTS_DIR="+runDir)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}

	if err := cmd.Start(); err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("start execution: %w", err)
	}

	var outMu sync.Mutex
	var combined strings.Builder
	collect := func(stream string, line string) {
		outMu.Lock()
		if combined.Len() < maxExecOutputBytes {
			if stream == "stderr" {
				combined.WriteString("[stderr] ")
			}
			combined.WriteString(line)
			combined.WriteString("\n")
		}
		outMu.Unlock()
		if cb.OnChunk != nil {
			cb.OnChunk(ExecChunk{Stream: stream, Text: line + "\n"})
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) { collect("stdout", line) })
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) { collect("stderr", line) })
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	result := ExecResult{Output: combined.String()}
	if runDir != "" {
		result.Artifacts = listArtifacts(runDir)
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, waitErr
	}

	if result.Output == "" {
		result.Output = "<execution produced no output>"
	}
	return result, nil
}

// commandFor maps a proposal language onto a host command line.
func commandFor(language, source string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "sh", "bash", "shell":
		return []string{"sh", "-c", source}, nil
	case "python", "python3":
		return []string{"python3", "-c", source}, nil
	default:
		return nil, fmt.Errorf("unsupported execution language %q", language)
	}
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// listArtifacts returns the files an execution left in its run directory.
func listArtifacts(runDir string) []string {
	var artifacts []string
	_ = filepath.WalkDir(runDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		artifacts = append(artifacts, path)
		return nil
	})
	return artifacts
}
