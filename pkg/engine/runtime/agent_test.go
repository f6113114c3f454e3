package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/approval"
	"AgentCore/pkg/engine/store"
	"AgentCore/pkg/engine/tools"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Test Doubles
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

type fakeExec struct {
	mu      sync.Mutex
	sources []string
	output  string
	exit    int
	err     error
}

func (f *fakeExec) Run(ctx context.Context, language, source string, cb ExecCallbacks) (ExecResult, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()
	if f.err != nil {
		return ExecResult{ExitCode: -1}, f.err
	}
	if cb.OnChunk != nil {
		cb.OnChunk(ExecChunk{Stream: "stdout", Text: f.output})
	}
	return ExecResult{Output: f.output, ExitCode: f.exit}, nil
}

func (f *fakeExec) ranSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sources))
	copy(out, f.sources)
	return out
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Risk() api.RiskLevel     { return api.RiskLow }
func (echoTool) Schema() api.ToolSchema  { return api.ToolSchema{Name: "echo", Description: "Echoes text back"} }
func (echoTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	return api.ToolResult{Content: fmt.Sprint(args["text"]), Status: "success"}, nil
}

func execProposal(source string) api.ActionProposal {
	return api.ActionProposal{
		Kind:    api.ProposalExecute,
		Execute: &api.ExecuteProposal{Language: "sh", Source: source},
	}
}

func echoProposal(text string) api.ActionProposal {
	return api.ActionProposal{
		Kind: api.ProposalTool,
		Tool: &api.ToolProposal{Name: "echo", Args: api.Args{"text": text}},
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Harness
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func newTestAgent(t *testing.T, model Model, exec ExecSession, mutate func(*AgentConfig)) *AgentInstance {
	t.Helper()
	root := t.TempDir()
	log, err := store.NewFileSessionLog(root, "sess-test", false)
	if err != nil {
		t.Fatalf("NewFileSessionLog: %v", err)
	}
	reg := tools.NewRegistry()
	reg.MustRegister(echoTool{})

	cfg := AgentConfig{
		SessionID:       "sess-test",
		Model:           model,
		NewExec:         func() ExecSession { return exec },
		Tools:           reg,
		Log:             log,
		ApprovalMode:    api.ModeSuggest,
		WorkspaceRoot:   root,
		AllowDelegation: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAgentInstance(cfg)
	if err != nil {
		t.Fatalf("NewAgentInstance: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

// drainStream consumes the stream to its end, resolving approval requests
// through decide. decide returns the decision and whether to resolve at
// all.
func drainStream(t *testing.T, stream api.EventStream, decide func(api.Event) (bool, bool)) ([]api.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []api.Event
	for {
		e, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
		if e.Type == api.EventApprovalRequest && e.Approval != nil && e.Approval.Request != nil &&
			!e.Approval.Request.Resolved() && decide != nil {
			approve, resolve := decide(e)
			if resolve {
				_ = e.Approval.Request.Approve(approve)
			}
		}
	}
}

func approveAll(api.Event) (bool, bool) { return true, true }

func ofAgent(events []api.Event, agentID string) []api.Event {
	var out []api.Event
	for _, e := range events {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

func ofType(events []api.Event, typ api.EventType) []api.Event {
	var out []api.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func firstIndex(events []api.Event, typ api.EventType) int {
	for i, e := range events {
		if e.Type == typ {
			return i
		}
	}
	return -1
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Exchange Flow
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func TestComputeFlowEndToEnd(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{
			Thoughts:  "The user wants arithmetic; run it in the sandbox.",
			Proposals: []api.ActionProposal{execProposal("echo $((2+2))")},
		},
		ScriptedStep{Text: "4"},
	)
	exec := &fakeExec{output: "4"}
	a := newTestAgent(t, model, exec, nil)

	stream, err := a.Stream(context.Background(), "compute 2+2", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	main := ofAgent(events, api.RootAgentID)
	iThoughts := firstIndex(main, api.EventThoughts)
	iApproval := firstIndex(main, api.EventApprovalRequest)
	iExec := firstIndex(main, api.EventExecOutput)
	iResponse := firstIndex(main, api.EventResponse)
	if iThoughts < 0 || iApproval < 0 || iExec < 0 || iResponse < 0 {
		t.Fatalf("missing stages: thoughts=%d approval=%d exec=%d response=%d", iThoughts, iApproval, iExec, iResponse)
	}
	if !(iThoughts < iApproval && iApproval < iExec && iExec < iResponse) {
		t.Fatalf("stages out of order: thoughts=%d approval=%d exec=%d response=%d", iThoughts, iApproval, iExec, iResponse)
	}
	if got := main[iExec].ExecOutput.Text; got != "4" {
		t.Errorf("execution output = %q, want %q", got, "4")
	}

	responses := ofType(main, api.EventResponse)
	final := responses[len(responses)-1]
	if final.Response.Text != "4" {
		t.Errorf("final response = %q, want %q", final.Response.Text, "4")
	}

	if n := len(ofType(main, api.EventApprovalRequest)); n != 1 {
		t.Errorf("approval requests = %d, want 1", n)
	}
	if got := exec.ranSources(); len(got) != 1 || got[0] != "echo $((2+2))" {
		t.Errorf("executed sources = %v", got)
	}

	if n := len(ofType(main, api.EventThoughtsChunk)); n == 0 {
		t.Error("expected thought chunks before the terminal thoughts event")
	}

	turns, err := a.cfg.Log.Load(context.Background(), api.RootAgentID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("persisted %d turns, want 1", len(turns))
	}
	if len(turns[0].Rounds) != 2 {
		t.Fatalf("persisted %d rounds, want 2", len(turns[0].Rounds))
	}
	r0 := turns[0].Rounds[0]
	if len(r0.Results) != 1 || r0.Results[0].Status != api.ResultOK || r0.Results[0].Content != "4" {
		t.Errorf("round 0 results = %+v", r0.Results)
	}
	if turns[0].Rounds[1].Response.Text != "4" {
		t.Errorf("round 1 text = %q, want %q", turns[0].Rounds[1].Response.Text, "4")
	}
}

func TestEveryProposalRaisesExactlyOneApproval(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{
			echoProposal("a"), echoProposal("b"), echoProposal("c"),
		}},
		ScriptedStep{Text: "all done"},
	)
	a := newTestAgent(t, model, &fakeExec{}, nil)

	stream, err := a.Stream(context.Background(), "run three", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, approveAll)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	approvals := ofType(ofAgent(events, api.RootAgentID), api.EventApprovalRequest)
	if len(approvals) != 3 {
		t.Fatalf("approval requests = %d, want 3", len(approvals))
	}
	for _, e := range approvals {
		if !e.Approval.Request.Resolved() {
			t.Errorf("request %s left unresolved", e.Approval.RequestID)
		}
		if err := e.Approval.Request.Approve(true); !errors.Is(err, approval.ErrAlreadyResolved) {
			t.Errorf("second resolution error = %v, want ErrAlreadyResolved", err)
		}
	}
	if n := len(ofType(events, api.EventToolOutput)); n != 3 {
		t.Errorf("tool outputs = %d, want 3", n)
	}
}

func TestRejectionTruncatesRound(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{
			execProposal("one"), execProposal("two"), execProposal("three"),
		}},
		ScriptedStep{Text: "should never be asked"},
	)
	exec := &fakeExec{output: "ran"}
	a := newTestAgent(t, model, exec, nil)

	stream, err := a.Stream(context.Background(), "do three things", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, func(e api.Event) (bool, bool) {
		return e.Approval.Args["source"] != "two", true
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	main := ofAgent(events, api.RootAgentID)
	last := main[len(main)-1]
	if last.Type != api.EventResponse || last.Response.Text != api.RejectionNotice {
		t.Fatalf("terminal event = %s %+v, want rejection response", last.Type, last.Response)
	}

	// The model is never consulted again after the truncation.
	if model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", model.Calls())
	}

	turns := a.Turns()
	if len(turns) != 1 || len(turns[0].Rounds) != 1 {
		t.Fatalf("turns = %+v, want one turn with one round", turns)
	}
	results := turns[0].Rounds[0].Results
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	wantStatus := []api.ResultStatus{api.ResultDiscarded, api.ResultRejected, api.ResultDiscarded}
	for i, w := range wantStatus {
		if results[i].Status != w {
			t.Errorf("result %d status = %s, want %s", i, results[i].Status, w)
		}
	}
	if results[1].Content != api.RejectionNotice {
		t.Errorf("rejected result content = %q, want the fixed notice", results[1].Content)
	}
	// Admitted siblings still ran to completion.
	if got := exec.ranSources(); len(got) != 2 {
		t.Errorf("sibling executions = %v, want the two approved sources", got)
	}
}

func TestDiscardedResultsAreWithheldFromModel(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{
			execProposal("one"), execProposal("two"), execProposal("three"),
		}},
	)
	model.FallbackText = "done"
	a := newTestAgent(t, model, &fakeExec{output: "ran"}, nil)

	stream, err := a.Stream(context.Background(), "do three things", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drainStream(t, stream, func(e api.Event) (bool, bool) {
		return e.Approval.Args["source"] != "two", true
	}); err != nil {
		t.Fatalf("drain: %v", err)
	}

	stream, err = a.Stream(context.Background(), "follow up", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drainStream(t, stream, approveAll); err != nil {
		t.Fatalf("drain: %v", err)
	}

	reqs := model.Requests()
	if len(reqs) != 2 {
		t.Fatalf("model requests = %d, want 2", len(reqs))
	}
	var tool []api.ModelMessage
	for _, m := range reqs[1].Messages {
		if m.Role == "tool" {
			tool = append(tool, m)
		}
	}
	if len(tool) != 3 {
		t.Fatalf("tool messages in follow-up = %d, want 3", len(tool))
	}
	want := []string{discardedPlaceholder, api.RejectionNotice, discardedPlaceholder}
	for i, w := range want {
		if tool[i].Content != w {
			t.Errorf("tool message %d content = %q, want %q", i, tool[i].Content, w)
		}
	}
}

func TestApprovalTimeoutIsDistinctFromRejection(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{execProposal("sensitive")}},
	)
	exec := &fakeExec{output: "x"}
	a := newTestAgent(t, model, exec, func(cfg *AgentConfig) {
		cfg.ApprovalTimeout = 50 * time.Millisecond
	})

	stream, err := a.Stream(context.Background(), "try it", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drainStream(t, stream, func(api.Event) (bool, bool) { return false, false })
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	main := ofAgent(events, api.RootAgentID)
	last := main[len(main)-1]
	if last.Type != api.EventResponse || last.Response.Text != api.TimeoutNotice {
		t.Fatalf("terminal event = %s %+v, want timeout response", last.Type, last.Response)
	}

	turns := a.Turns()
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	results := turns[0].Rounds[0].Results
	if len(results) != 1 || results[0].Status != api.ResultTimeout {
		t.Fatalf("results = %+v, want one timeout", results)
	}
	// No side effect before an approval resolves.
	if got := exec.ranSources(); len(got) != 0 {
		t.Errorf("execution ran without approval: %v", got)
	}
}

func TestMaxTurnsForcesStop(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{echoProposal("first")}},
		ScriptedStep{Proposals: []api.ActionProposal{echoProposal("second")}},
	)
	a := newTestAgent(t, model, &fakeExec{}, nil)

	stream, err := a.Stream(context.Background(), "loop forever", api.StreamOptions{MaxTurns: 1})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drainStream(t, stream, approveAll); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", model.Calls())
	}
	turns := a.Turns()
	if len(turns) != 1 || len(turns[0].Rounds) != 1 {
		t.Fatalf("turns = %+v, want one partial turn with one round", turns)
	}
	if len(turns[0].Rounds[0].Results) != 1 {
		t.Errorf("round results = %+v, want the one executed action", turns[0].Rounds[0].Results)
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Persistence
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func TestHistoryReplaysAcrossInstances(t *testing.T) {
	root := t.TempDir()
	log, err := store.NewFileSessionLog(root, "sess-replay", false)
	if err != nil {
		t.Fatalf("NewFileSessionLog: %v", err)
	}

	build := func(model Model) *AgentInstance {
		a, err := NewAgentInstance(AgentConfig{
			SessionID:     "sess-replay",
			Model:         model,
			NewExec:       func() ExecSession { return &fakeExec{} },
			Tools:         tools.NewRegistry(),
			Log:           log,
			WorkspaceRoot: root,
		})
		if err != nil {
			t.Fatalf("NewAgentInstance: %v", err)
		}
		return a
	}

	first := build(NewScriptedModel(ScriptedStep{Text: "hello there"}))
	stream, err := first.Stream(context.Background(), "hi", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drainStream(t, stream, approveAll); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := build(NewScriptedModel(ScriptedStep{Text: "welcome back"}))
	defer second.Close(context.Background())
	stream, err = second.Stream(context.Background(), "hi again", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drainStream(t, stream, approveAll); err != nil {
		t.Fatalf("drain: %v", err)
	}

	turns := second.Turns()
	if len(turns) != 2 {
		t.Fatalf("replayed turns = %d, want 2", len(turns))
	}
	if turns[0].Input != "hi" || turns[1].Input != "hi again" {
		t.Errorf("turn inputs = %q, %q", turns[0].Input, turns[1].Input)
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Lifecycle
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func TestCloseRejectsPendingApprovals(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{execProposal("held")}},
	)
	a := newTestAgent(t, model, &fakeExec{}, nil)

	stream, err := a.Stream(context.Background(), "hold on", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pending *approval.Request
	for pending == nil {
		e, err := stream.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv before approval: %v", err)
		}
		if e.Type == api.EventApprovalRequest {
			pending = e.Approval.Request
		}
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	approved, resolved := pending.Decision()
	if !resolved || approved {
		t.Errorf("pending request after close: approved=%v resolved=%v, want rejected", approved, resolved)
	}
	// Idempotent.
	if err := a.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The stream winds down rather than hanging.
	for {
		if _, err := stream.Recv(ctx); err != nil {
			break
		}
	}

	if _, err := a.Stream(context.Background(), "again", api.StreamOptions{}); err == nil {
		t.Error("Stream on a closed instance should fail")
	}
}

func TestSingleActiveStream(t *testing.T) {
	model := NewScriptedModel(
		ScriptedStep{Proposals: []api.ActionProposal{execProposal("busy")}},
	)
	a := newTestAgent(t, model, &fakeExec{}, nil)

	stream, err := a.Stream(context.Background(), "first", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := a.Stream(context.Background(), "second", api.StreamOptions{}); err == nil {
		t.Fatal("second concurrent Stream should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		e, err := stream.Recv(ctx)
		if err != nil {
			break
		}
		if e.Type == api.EventApprovalRequest && e.Approval.Request != nil {
			_ = e.Approval.Request.Approve(true)
		}
	}

	// After the first stream ends a new one may start.
	stream, err = a.Stream(context.Background(), "third", api.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream after completion: %v", err)
	}
	if _, err := drainStream(t, stream, approveAll); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
