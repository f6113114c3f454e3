package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentCore/pkg/engine/api"
)

func delegateProposal(prompt string) api.ActionProposal {
	return api.ActionProposal{
		Kind:     api.ProposalDelegate,
		Delegate: &api.DelegateProposal{Prompt: prompt},
	}
}

func TestDelegationRunsChildToCompletion(t *testing.T) {
	parentModel := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{delegateProposal("sum the numbers")}},
		ScriptedStep{Text: "done"},
	)
	a := newTestAgent(t, parentModel, &fakeExec{}, func(cfg *AgentConfig) {
		cfg.ApprovalMode = api.ModeFullAuto
		cfg.NewModel = func() Model {
			return NewScriptedModel(ScriptedStep{Text: "child answer"})
		}
	})

	stream, err := a.Stream(context.Background(), "delegate this", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	childID := ""
	for _, e := range events {
		if strings.HasPrefix(e.AgentID, "sub-") {
			childID = e.AgentID
			break
		}
	}
	if childID == "" {
		t.Fatal("no relayed child events in the parent stream")
	}

	childResponses := ofType(ofAgent(events, childID), api.EventResponse)
	if len(childResponses) == 0 || childResponses[len(childResponses)-1].Response.Text != "child answer" {
		t.Errorf("child responses = %+v, want final %q", childResponses, "child answer")
	}

	outputs := ofType(ofAgent(events, api.RootAgentID), api.EventToolOutput)
	if len(outputs) != 1 {
		t.Fatalf("parent tool outputs = %d, want 1", len(outputs))
	}
	out := outputs[0].ToolOutput
	if out.ToolName != api.FuncDelegateTask || out.Status != "success" || out.Content != "child answer" {
		t.Errorf("delegation output = %+v", out)
	}

	parentResponses := ofType(ofAgent(events, api.RootAgentID), api.EventResponse)
	if parentResponses[len(parentResponses)-1].Response.Text != "done" {
		t.Errorf("parent final response = %q, want %q", parentResponses[len(parentResponses)-1].Response.Text, "done")
	}

	// The child's own exchange is persisted under its identity for audit.
	childTurns, err := a.cfg.Log.Load(context.Background(), childID)
	if err != nil {
		t.Fatalf("Load child log: %v", err)
	}
	if len(childTurns) != 1 || childTurns[0].Input != "sum the numbers" {
		t.Errorf("child turns = %+v", childTurns)
	}
}

// gateModel blocks every model step until released and tracks how many run
// at once.
type gateModel struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	started chan struct{}
	release chan struct{}
}

func (m *gateModel) Name() string { return "gate" }

func (m *gateModel) Stream(ctx context.Context, req ModelRequest) (ModelStream, error) {
	m.mu.Lock()
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
	m.started <- struct{}{}

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	select {
	case <-m.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return newScriptedStream(ScriptedStep{Text: "child done"}, 0), nil
}

func TestDelegationBlocksAtAdmissionCap(t *testing.T) {
	parentModel := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{
			delegateProposal("task one"), delegateProposal("task two"),
		}},
		ScriptedStep{Text: "both finished"},
	)
	children := &gateModel{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	a := newTestAgent(t, parentModel, &fakeExec{}, func(cfg *AgentConfig) {
		cfg.ApprovalMode = api.ModeFullAuto
		cfg.MaxSubagents = 1
		cfg.NewModel = func() Model { return children }
	})

	stream, err := a.Stream(context.Background(), "two tasks", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case <-children.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first child never started")
	}
	// The second delegation must hold at admission while the first child
	// is live.
	select {
	case <-children.started:
		t.Fatal("second child admitted past the cap")
	case <-time.After(100 * time.Millisecond):
	}

	close(children.release)
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	children.mu.Lock()
	maxSeen := children.maxSeen
	children.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("max concurrent children = %d, want 1", maxSeen)
	}

	outputs := ofType(ofAgent(events, api.RootAgentID), api.EventToolOutput)
	if len(outputs) != 2 {
		t.Fatalf("delegation outputs = %d, want 2", len(outputs))
	}
	for _, e := range outputs {
		if e.ToolOutput.Status != "success" || e.ToolOutput.Content != "child done" {
			t.Errorf("delegation output = %+v", e.ToolOutput)
		}
	}
}

type erroringModel struct{}

func (erroringModel) Name() string { return "broken" }

func (erroringModel) Stream(ctx context.Context, req ModelRequest) (ModelStream, error) {
	return nil, errors.New("model exploded")
}

func TestSubagentFailureIsRecoveredAtParent(t *testing.T) {
	parentModel := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{delegateProposal("doomed task")}},
		ScriptedStep{Text: "recovered"},
	)
	a := newTestAgent(t, parentModel, &fakeExec{}, func(cfg *AgentConfig) {
		cfg.ApprovalMode = api.ModeFullAuto
		cfg.NewModel = func() Model { return erroringModel{} }
	})

	stream, err := a.Stream(context.Background(), "delegate doom", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	outputs := ofType(ofAgent(events, api.RootAgentID), api.EventToolOutput)
	if len(outputs) != 1 || outputs[0].ToolOutput.Status != "error" {
		t.Fatalf("delegation outputs = %+v, want one error", outputs)
	}
	if !strings.Contains(outputs[0].ToolOutput.Error, "subagent failed") {
		t.Errorf("delegation error = %q", outputs[0].ToolOutput.Error)
	}

	// The child's failure is non-fatal: the loop continued to a normal
	// final response.
	responses := ofType(ofAgent(events, api.RootAgentID), api.EventResponse)
	if responses[len(responses)-1].Response.Text != "recovered" {
		t.Errorf("final response = %q, want %q", responses[len(responses)-1].Response.Text, "recovered")
	}
	if parentModel.Calls() != 2 {
		t.Errorf("parent model calls = %d, want 2", parentModel.Calls())
	}
}

func TestChildrenCannotDelegateFurther(t *testing.T) {
	parentModel := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{delegateProposal("outer")}},
		ScriptedStep{Text: "finished"},
	)
	a := newTestAgent(t, parentModel, &fakeExec{}, func(cfg *AgentConfig) {
		cfg.ApprovalMode = api.ModeFullAuto
		cfg.NewModel = func() Model {
			return NewScriptedModel(
				ScriptedStep{Proposals: []api.ActionProposal{delegateProposal("inner")}},
				ScriptedStep{Text: "child gave up"},
			)
		}
	})

	stream, err := a.Stream(context.Background(), "nested delegation", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Exactly one child exists; its inner delegation was refused and fed
	// back, so its second step still ran.
	childIDs := map[string]bool{}
	for _, e := range events {
		if strings.HasPrefix(e.AgentID, "sub-") {
			childIDs[e.AgentID] = true
		}
	}
	if len(childIDs) != 1 {
		t.Fatalf("child agents = %v, want exactly one", childIDs)
	}

	outputs := ofType(ofAgent(events, api.RootAgentID), api.EventToolOutput)
	if len(outputs) != 1 || outputs[0].ToolOutput.Content != "child gave up" {
		t.Fatalf("parent delegation output = %+v", outputs)
	}
}
