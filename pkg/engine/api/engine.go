// Package api defines the stable public interface of the agent core.
// All external interactions should use these types.
package api

import (
	"context"
	"errors"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Engine Interface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Engine is the caller-facing surface of one agent instance.
type Engine interface {
	// Stream runs the prompt through the turn loop and returns the ordered
	// event stream. The caller must resolve every emitted ApprovalRequest
	// for the stream to progress, and consume until io.EOF or a fatal
	// error. Only one Stream call may be active at a time.
	Stream(ctx context.Context, prompt string, opts StreamOptions) (EventStream, error)

	// Close tears down the instance: pending approvals are rejected,
	// in-flight executions stopped, live subagents torn down recursively,
	// then the instance's own resources released. Idempotent.
	Close(ctx context.Context) error
}

// StreamOptions bound a single Stream call.
type StreamOptions struct {
	// MaxTurns caps model round-trips for this call. 0 means unbounded.
	MaxTurns int
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Approval Modes
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ApprovalMode controls which proposals are referred to the stream consumer
// for a decision. Requests the policy exempts are resolved by the engine
// itself, so every proposal still raises exactly one ApprovalRequest.
type ApprovalMode string

const (
	ModeSuggest  ApprovalMode = "suggest"   // Everything needs a human decision
	ModeAuto     ApprovalMode = "auto"      // Risky actions need a human decision
	ModeFullAuto ApprovalMode = "full-auto" // Engine resolves everything itself
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Args
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Args is the unordered string-keyed argument map of a proposed action.
type Args = map[string]any

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Failure Conditions
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Fatal conditions abort the stream and propagate to the caller verbatim.
// Non-fatal conditions become model-visible text and the loop continues.
var (
	ErrModelFailure       = errors.New("model_failure")       // fatal
	ErrPersistenceFailure = errors.New("persistence_failure") // fatal
	ErrExecutionFailure   = errors.New("execution_failure")   // non-fatal, fed back as text
	ErrApprovalRejected   = errors.New("approval_rejected")   // non-fatal, truncates the round
	ErrApprovalTimeout    = errors.New("approval_timeout")    // non-fatal, truncates the round
	ErrSubagentFailure    = errors.New("subagent_failure")    // non-fatal, child error text fed back
)

// Fixed model-visible notices for the truncation paths.
const (
	RejectionNotice = "The user rejected this action. It was not executed."
	TimeoutNotice   = "No approval decision arrived in time. The action was not executed."
)
