package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Scripted Model
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ScriptedStep is one canned model step.
type ScriptedStep struct {
	Thoughts  string
	Text      string
	Proposals []api.ActionProposal
}

// ScriptedModel replays a fixed sequence of steps. It backs tests and the
// keyless demo mode: once the script runs out every further step returns
// FallbackText with no proposals, which ends the loop.
type ScriptedModel struct {
	// FallbackText is returned after the script is exhausted.
	FallbackText string

	mu    sync.Mutex
	steps []ScriptedStep
	next  int
	calls int
	reqs  []ModelRequest
}

// NewScriptedModel creates a model that plays the given steps in order.
func NewScriptedModel(steps ...ScriptedStep) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

func (m *ScriptedModel) Name() string { return "scripted" }

// Calls reports how many steps have been requested so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns every request received so far, in order.
func (m *ScriptedModel) Requests() []ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelRequest, len(m.reqs))
	copy(out, m.reqs)
	return out
}

func (m *ScriptedModel) Stream(ctx context.Context, req ModelRequest) (ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.reqs = append(m.reqs, req)

	var step ScriptedStep
	stepIdx := m.next
	if m.next < len(m.steps) {
		step = m.steps[m.next]
		m.next++
	} else {
		text := m.FallbackText
		if text == "" {
			text = "(scripted model: no steps remaining)"
		}
		step = ScriptedStep{Text: text}
	}
	return newScriptedStream(step, stepIdx), nil
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Scripted Stream
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

const scriptedChunkSize = 32

type scriptedStream struct {
	chunks []ModelChunk
	pos    int
}

func newScriptedStream(step ScriptedStep, stepIdx int) *scriptedStream {
	var chunks []ModelChunk
	for _, d := range splitDeltas(step.Thoughts) {
		chunks = append(chunks, ModelChunk{ThoughtDelta: d})
	}
	for _, d := range splitDeltas(step.Text) {
		chunks = append(chunks, ModelChunk{TextDelta: d})
	}
	for i := range step.Proposals {
		p := step.Proposals[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("call_%d_%d", stepIdx, i)
		}
		chunks = append(chunks, ModelChunk{Proposal: &p})
	}
	finish := "stop"
	if len(step.Proposals) > 0 {
		finish = "tool_calls"
	}
	chunks = append(chunks, ModelChunk{FinishReason: finish})
	return &scriptedStream{chunks: chunks}
}

// splitDeltas cuts text into the small fragments a live backend would
// stream.
func splitDeltas(s string) []string {
	var out []string
	for len(s) > scriptedChunkSize {
		out = append(out, s[:scriptedChunkSize])
		s = s[scriptedChunkSize:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func (s *scriptedStream) Recv(ctx context.Context) (ModelChunk, error) {
	if err := ctx.Err(); err != nil {
		return ModelChunk{}, err
	}
	if s.pos >= len(s.chunks) {
		return ModelChunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }
