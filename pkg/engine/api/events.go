package api

import (
	"context"
	"time"

	"AgentCore/pkg/engine/approval"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// EventStream Interface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// EventStream is the unified interface for consuming agent events.
type EventStream interface {
	// Recv returns the next event. io.EOF indicates stream end; any other
	// error is fatal and ends the conversation.
	Recv(ctx context.Context) (Event, error)

	// Close releases stream resources.
	Close() error
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Event Types
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// EventType identifies the kind of event.
type EventType string

const (
	EventResponseChunk   EventType = "response_chunk"
	EventResponse        EventType = "response"
	EventThoughtsChunk   EventType = "thoughts_chunk"
	EventThoughts        EventType = "thoughts"
	EventApprovalRequest EventType = "approval_request"
	EventExecOutputChunk EventType = "code_execution_output_chunk"
	EventExecOutput      EventType = "code_execution_output"
	EventToolOutput      EventType = "tool_output"
)

// Terminal reports whether the type closes its corr_id family. A chunk
// family is closed by exactly one terminal event before its corr_id may be
// reused.
func (t EventType) Terminal() bool {
	switch t {
	case EventResponse, EventThoughts, EventExecOutput, EventToolOutput:
		return true
	}
	return false
}

// RootAgentID identifies the root instance in the shared stream. Subagents
// get generated identifiers.
const RootAgentID = "main"

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Event (Strict Union)
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Event is the unified output type. Exactly one payload is non-nil,
// matching Type. Events are immutable once emitted.
type Event struct {
	AgentID string    `json:"agent_id"`
	CorrID  string    `json:"corr_id"`
	Seq     int64     `json:"seq"` // Monotonically increasing per emitting agent
	Type    EventType `json:"type"`
	Ts      time.Time `json:"ts"`

	// Strict union: exactly one payload should be non-nil
	Response   *ResponsePayload   `json:"response,omitempty"`
	Thoughts   *ThoughtsPayload   `json:"thoughts,omitempty"`
	Approval   *ApprovalPayload   `json:"approval,omitempty"`
	ExecOutput *ExecOutputPayload `json:"exec_output,omitempty"`
	ToolOutput *ToolOutputPayload `json:"tool_output,omitempty"`
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Payload Types
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ResponsePayload carries model response text. On a chunk it is the delta;
// on the terminal event it is the full accumulated text.
type ResponsePayload struct {
	Text string `json:"text"`
}

// ThoughtsPayload carries model reasoning output, same chunk/terminal
// convention as ResponsePayload.
type ThoughtsPayload struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

// ApprovalPayload asks the stream consumer to gate a proposed action. The
// consumer must resolve Request exactly once for the stream to progress.
type ApprovalPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Args      Args   `json:"tool_args"`

	// Request is the live one-shot resolution cell. Never serialized.
	Request *approval.Request `json:"-"`
}

// ExecOutputPayload carries sandboxed code execution output. Chunks carry
// one stream's delta; the terminal event carries the aggregate, exit code,
// and any produced artifacts.
type ExecOutputPayload struct {
	Stream    string   `json:"stream,omitempty"` // "stdout" | "stderr"
	Text      string   `json:"text"`
	ExitCode  int      `json:"exit_code,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// ToolOutputPayload carries a tool back-end result, including a completed
// delegation's final text.
type ToolOutputPayload struct {
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	Status   string `json:"status"` // "success" | "error"
	Error    string `json:"error,omitempty"`
}
