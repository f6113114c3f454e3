// Package runtime drives the turn loop: it wires the model session, the
// approval gate, the execution session, tools, and delegation into one
// ordered event stream per agent instance.
package runtime

import (
	"context"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Model Interface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Model abstracts one model session. Implementations must be safe for use
// by a single turn loop at a time.
type Model interface {
	// Name identifies the backing model for logs and manifests.
	Name() string

	// Stream opens one model step for the given request. The returned
	// stream yields deltas and proposals until io.EOF.
	Stream(ctx context.Context, req ModelRequest) (ModelStream, error)
}

// ModelRequest is the full input of one model step.
type ModelRequest struct {
	Instructions string
	Messages     []api.ModelMessage
	Tools        []api.ToolSchema
	Temperature  float64
}

// ModelStream yields the chunks of one model step in order.
type ModelStream interface {
	// Recv returns the next chunk. io.EOF ends the step cleanly; any
	// other error means the step failed.
	Recv(ctx context.Context) (ModelChunk, error)

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error
}

// ModelChunk is one streamed fragment of a model step. At most one field
// is set.
type ModelChunk struct {
	TextDelta    string
	ThoughtDelta string
	Proposal     *api.ActionProposal
	FinishReason string
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Lifecycle
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// StartStopper is implemented by backends with real setup or teardown
// work. The instance supervisor starts them in a fixed order and stops
// them in reverse on every exit path.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Engine Function Schemas
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// executeCodeSchema describes the engine's code execution function to the
// model.
func executeCodeSchema() api.ToolSchema {
	return api.ToolSchema{
		Name:        api.FuncExecuteCode,
		Description: "Run source code in the isolated execution session and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Language of the source: sh, bash, or python.",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Source text to execute.",
				},
			},
			"required": []string{"source"},
		},
	}
}

// delegateTaskSchema describes the delegation function to the model. Only
// agents allowed to delegate advertise it.
func delegateTaskSchema() api.ToolSchema {
	return api.ToolSchema{
		Name:        api.FuncDelegateTask,
		Description: "Hand a self-contained sub-task to a fresh subagent and return its final answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Complete instructions for the sub-task.",
				},
				"max_turns": map[string]any{
					"type":        "integer",
					"description": "Turn allowance for the subagent. Omit for the default.",
				},
			},
			"required": []string{"prompt"},
		},
	}
}
