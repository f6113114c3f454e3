package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCommandForMapping(t *testing.T) {
	tests := []struct {
		language string
		want     string
		wantErr  bool
	}{
		{"", "sh", false},
		{"sh", "sh", false},
		{"Bash", "sh", false},
		{"shell", "sh", false},
		{"python", "python3", false},
		{"python3", "python3", false},
		{"perl", "", true},
		{"javascript", "", true},
	}
	for _, tt := range tests {
		argv, err := commandFor(tt.language, "print")
		if tt.wantErr {
			if err == nil {
				t.Errorf("commandFor(%q): expected error, got %v", tt.language, argv)
			}
			continue
		}
		if err != nil {
			t.Errorf("commandFor(%q): %v", tt.language, err)
			continue
		}
		if argv[0] != tt.want {
			t.Errorf("commandFor(%q) = %v, want interpreter %q", tt.language, argv, tt.want)
		}
		if argv[len(argv)-1] != "print" {
			t.Errorf("commandFor(%q) lost the source: %v", tt.language, argv)
		}
	}
}

func TestLocalExecCapturesBothStreams(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")

	var mu sync.Mutex
	var chunks []ExecChunk
	cb := ExecCallbacks{OnChunk: func(c ExecChunk) {
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
	}}

	result, err := s.Run(context.Background(), "sh", `echo out; echo err 1>&2`, cb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Output, "out\n") {
		t.Errorf("output missing stdout line: %q", result.Output)
	}
	if !strings.Contains(result.Output, "[stderr] err\n") {
		t.Errorf("output missing tagged stderr line: %q", result.Output)
	}

	// Stream order between stdout and stderr is not fixed; assert
	// membership only.
	sawOut, sawErr := false, false
	mu.Lock()
	for _, c := range chunks {
		if c.Stream == "stdout" && c.Text == "out\n" {
			sawOut = true
		}
		if c.Stream == "stderr" && c.Text == "err\n" {
			sawErr = true
		}
	}
	mu.Unlock()
	if !sawOut || !sawErr {
		t.Errorf("chunks = %+v, want one stdout and one stderr line", chunks)
	}
}

func TestLocalExecReportsExitCode(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")
	result, err := s.Run(context.Background(), "sh", "exit 3", ExecCallbacks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestLocalExecSilentRunGetsPlaceholder(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")
	result, err := s.Run(context.Background(), "sh", "true", ExecCallbacks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if result.Output != "<execution produced no output>" {
		t.Errorf("output = %q, want the no-output placeholder", result.Output)
	}
}

func TestLocalExecTimeoutKeepsPartialOutput(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := s.Run(ctx, "sh", "echo started; sleep 1; echo finished", ExecCallbacks{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", result.ExitCode)
	}
	if !strings.Contains(result.Output, "started") {
		t.Errorf("partial output = %q, want the pre-timeout line", result.Output)
	}
	if strings.Contains(result.Output, "finished") {
		t.Errorf("output %q contains a line printed after the kill", result.Output)
	}
}

func TestLocalExecCollectsArtifacts(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	result, err := s.Run(ctx, "sh", `echo data > "$AGENT_ARTIFACTS_DIR/result.txt"`, ExecCallbacks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("artifacts = %v, want one file", result.Artifacts)
	}
	if filepath.Base(result.Artifacts[0]) != "result.txt" {
		t.Errorf("artifact = %q, want result.txt", result.Artifacts[0])
	}

	// Each run gets its own directory; the first run's files do not leak
	// into the second.
	result, err = s.Run(ctx, "sh", "true", ExecCallbacks{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(result.Artifacts) != 0 {
		t.Errorf("second run artifacts = %v, want none", result.Artifacts)
	}
}

func TestLocalExecRejectsUnknownLanguage(t *testing.T) {
	s := NewLocalExecSession(t.TempDir(), "")
	_, err := s.Run(context.Background(), "perl", `print "hi"`, ExecCallbacks{})
	if err == nil || !strings.Contains(err.Error(), "unsupported execution language") {
		t.Fatalf("Run error = %v, want unsupported language", err)
	}
}
