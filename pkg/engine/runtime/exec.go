package runtime

import (
	"context"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Execution Session
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ExecChunk is one streamed fragment of execution output.
type ExecChunk struct {
	Stream string // "stdout" | "stderr"
	Text   string
}

// ExecResult is the terminal outcome of one execution.
type ExecResult struct {
	Output    string
	ExitCode  int
	Artifacts []string
}

// ExecCallbacks carries the loop-side hooks an execution may invoke while
// it runs.
type ExecCallbacks struct {
	// OnChunk receives output fragments as they appear. May be nil.
	OnChunk func(ExecChunk)

	// OnApproval gates a tool request raised from inside the sandbox.
	// Nil denies such requests outright.
	OnApproval func(toolName string, args api.Args) bool
}

// ExecSession runs model-proposed source in an isolated environment. A
// session belongs to exactly one agent instance; concurrent Run calls
// serialize on it.
type ExecSession interface {
	Run(ctx context.Context, language, source string, cb ExecCallbacks) (ExecResult, error)
}
