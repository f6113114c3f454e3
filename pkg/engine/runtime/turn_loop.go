package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/approval"
	"AgentCore/pkg/engine/policy"
	"AgentCore/pkg/logger"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Loop States
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

type loopState string

const (
	stateIdle             loopState = "idle"
	stateAwaitingModel    loopState = "awaiting_model"
	stateDispatching      loopState = "dispatching"
	stateAwaitingApproval loopState = "awaiting_approval"
	stateExecuting        loopState = "executing"
	stateAborted          loopState = "aborted"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Turn Loop
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// turnLoop drives one exchange: model step, proposal dispatch, fed-back
// results, repeated until the model stops proposing or the budget runs
// out.
type turnLoop struct {
	a        *AgentInstance
	maxTurns int

	mu    sync.Mutex
	state loopState
}

func newTurnLoop(a *AgentInstance, maxTurns int) *turnLoop {
	return &turnLoop{a: a, maxTurns: maxTurns, state: stateIdle}
}

func (l *turnLoop) setState(s loopState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	logger.Debug("TurnLoop", "State transition", map[string]interface{}{
		"agent": l.a.agentID,
		"state": string(s),
	})
}

// run drives the exchange and returns its turn record. A non-nil error is
// fatal for the stream; the returned turn still holds whatever rounds
// completed before the failure.
func (l *turnLoop) run(ctx context.Context, prompt string) (*api.Turn, error) {
	turn := &api.Turn{Input: prompt}
	messages := l.a.historyMessages()
	messages = append(messages, api.ModelMessage{Role: "user", Content: prompt})

	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			l.setState(stateAborted)
			return turn, err
		}
		if l.maxTurns > 0 && rounds >= l.maxTurns {
			logger.Info("TurnLoop", "Turn budget exhausted", map[string]interface{}{
				"agent":  l.a.agentID,
				"rounds": rounds,
			})
			l.setState(stateIdle)
			return turn, nil
		}
		rounds++

		l.setState(stateAwaitingModel)
		resp, err := l.modelRound(ctx, messages)
		if err != nil {
			l.setState(stateAborted)
			if ctx.Err() != nil {
				return turn, ctx.Err()
			}
			return turn, fmt.Errorf("%w: %v", api.ErrModelFailure, err)
		}

		round := api.Round{Response: resp}

		if len(resp.Proposals) == 0 {
			turn.Rounds = append(turn.Rounds, round)
			l.setState(stateIdle)
			return turn, nil
		}

		l.setState(stateDispatching)
		results, notice := l.dispatchAll(ctx, resp.Proposals)
		round.Results = results
		turn.Rounds = append(turn.Rounds, round)

		if err := ctx.Err(); err != nil {
			l.setState(stateAborted)
			return turn, err
		}

		if notice != "" {
			// A rejected or timed-out approval truncates the round. The
			// exchange ends with the fixed notice as its terminal
			// response.
			l.a.emit(api.Event{
				CorrID:   newCorrID(),
				Type:     api.EventResponse,
				Response: &api.ResponsePayload{Text: notice},
			})
			l.setState(stateIdle)
			return turn, nil
		}

		messages = append(messages, assistantMessage(resp))
		messages = append(messages, resultMessages(results)...)
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Model Round
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// modelRound runs one model step, emitting chunk events as deltas arrive
// and closing each chunk family with its terminal event.
func (l *turnLoop) modelRound(ctx context.Context, messages []api.ModelMessage) (api.ModelResponse, error) {
	stream, err := l.a.model.Stream(ctx, ModelRequest{
		Instructions: l.a.cfg.Instructions,
		Messages:     messages,
		Tools:        l.a.toolSchemas(),
		Temperature:  l.a.cfg.Temperature,
	})
	if err != nil {
		return api.ModelResponse{}, err
	}
	defer stream.Close()

	var resp api.ModelResponse
	var thoughts, text strings.Builder
	thoughtCorr, respCorr := "", ""

	for {
		chunk, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return api.ModelResponse{}, err
		}

		switch {
		case chunk.ThoughtDelta != "":
			if thoughtCorr == "" {
				thoughtCorr = newCorrID()
			}
			thoughts.WriteString(chunk.ThoughtDelta)
			l.a.emit(api.Event{
				CorrID:   thoughtCorr,
				Type:     api.EventThoughtsChunk,
				Thoughts: &api.ThoughtsPayload{Text: chunk.ThoughtDelta},
			})
		case chunk.TextDelta != "":
			if respCorr == "" {
				respCorr = newCorrID()
			}
			text.WriteString(chunk.TextDelta)
			l.a.emit(api.Event{
				CorrID:   respCorr,
				Type:     api.EventResponseChunk,
				Response: &api.ResponsePayload{Text: chunk.TextDelta},
			})
		case chunk.Proposal != nil:
			p := *chunk.Proposal
			if p.ID == "" {
				p.ID = newCallID()
			}
			resp.Proposals = append(resp.Proposals, p)
		}
	}

	resp.Thoughts = thoughts.String()
	resp.Text = text.String()

	if thoughtCorr != "" {
		l.a.emit(api.Event{
			CorrID:   thoughtCorr,
			Type:     api.EventThoughts,
			Thoughts: &api.ThoughtsPayload{Text: resp.Thoughts},
		})
	}
	// The terminal response closes the round's text family. A step with
	// no text and no proposals still ends the exchange with an empty
	// terminal response so the stream always finishes on one.
	if respCorr != "" || len(resp.Proposals) == 0 {
		if respCorr == "" {
			respCorr = newCorrID()
		}
		l.a.emit(api.Event{
			CorrID:   respCorr,
			Type:     api.EventResponse,
			Response: &api.ResponsePayload{Text: resp.Text},
		})
	}

	return resp, nil
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Dispatch
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// dispatchAll runs every proposal of one model step concurrently and joins
// on all of them. The returned notice is empty unless an approval was
// rejected or timed out; in that case completed sibling results are marked
// discarded so they never reach the model.
func (l *turnLoop) dispatchAll(ctx context.Context, proposals []api.ActionProposal) ([]api.ActionResult, string) {
	results := make([]api.ActionResult, len(proposals))
	var g errgroup.Group
	for i := range proposals {
		i := i // per-iteration copy; load-bearing while the module targets go < 1.22
		p := proposals[i]
		g.Go(func() error {
			results[i] = l.dispatchOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	notice := ""
	for _, r := range results {
		if r.Status == api.ResultRejected {
			notice = api.RejectionNotice
			break
		}
		if r.Status == api.ResultTimeout && notice == "" {
			notice = api.TimeoutNotice
		}
	}
	if notice != "" {
		for i := range results {
			if results[i].Status == api.ResultOK || results[i].Status == api.ResultError {
				results[i].Status = api.ResultDiscarded
			}
		}
	}
	return results, notice
}

// dispatchOne takes a single proposal through approval and execution. The
// execution timeout clock starts when the approval resolves, not when the
// request is raised.
func (l *turnLoop) dispatchOne(ctx context.Context, p api.ActionProposal) api.ActionResult {
	corr := newCorrID()
	res := api.ActionResult{ProposalID: p.ID, CorrID: corr}

	approved, err := l.gate(ctx, corr, p)
	if err != nil {
		if errors.Is(err, api.ErrApprovalTimeout) {
			res.Status = api.ResultTimeout
			res.Content = api.TimeoutNotice
			return res
		}
		res.Status = api.ResultError
		res.Content = fmt.Sprintf("approval wait failed: %v", err)
		return res
	}
	if !approved {
		res.Status = api.ResultRejected
		res.Content = api.RejectionNotice
		return res
	}

	l.setState(stateExecuting)
	execCtx := ctx
	if l.a.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, l.a.cfg.ExecTimeout)
		defer cancel()
	}

	switch p.Kind {
	case api.ProposalExecute:
		return l.runExecute(execCtx, corr, p, res)
	case api.ProposalTool:
		return l.runTool(execCtx, corr, p, res)
	case api.ProposalDelegate:
		return l.runDelegate(execCtx, corr, p, res)
	}
	res.Status = api.ResultError
	res.Content = fmt.Sprintf("unknown proposal kind %q", p.Kind)
	return res
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Approval Gate
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// gate raises the approval request for one proposal and waits for its
// resolution. Every proposal gets exactly one request; the policy only
// decides whether the engine answers it instead of the stream consumer.
func (l *turnLoop) gate(ctx context.Context, corr string, p api.ActionProposal) (bool, error) {
	req := approval.NewRequest(p.DisplayName(), proposalArgs(p))
	reqID := newRequestID()
	l.a.trackPending(reqID, req)
	defer l.a.dropPending(reqID)

	l.a.emit(api.Event{
		CorrID: corr,
		Type:   api.EventApprovalRequest,
		Approval: &api.ApprovalPayload{
			RequestID: reqID,
			ToolName:  p.DisplayName(),
			Args:      proposalArgs(p),
			Request:   req,
		},
	})
	l.setState(stateAwaitingApproval)

	var tool policy.Tool
	if p.Kind == api.ProposalTool && p.Tool != nil {
		if t, ok := l.a.cfg.Tools.Get(p.Tool.Name); ok {
			tool = t
		}
	}
	if l.a.cfg.Policy.AutoResolve(ctx, l.a.policyContext(), p, tool) {
		_ = req.Approve(true)
	}

	waitCtx := ctx
	if l.a.cfg.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.a.cfg.ApprovalTimeout)
		defer cancel()
	}
	approved, err := req.Wait(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Info("TurnLoop", "Approval timed out", map[string]interface{}{
			"agent":   l.a.agentID,
			"request": reqID,
			"action":  p.DisplayName(),
		})
		return false, fmt.Errorf("%w: no decision within %s", api.ErrApprovalTimeout, l.a.cfg.ApprovalTimeout)
	}
	return approved, nil
}

// nestedGate re-wraps a tool request raised from inside the execution
// sandbox as an ordinary approval request on the stream.
func (l *turnLoop) nestedGate(ctx context.Context, toolName string, args api.Args) bool {
	req := approval.NewRequest(toolName, args)
	reqID := newRequestID()
	l.a.trackPending(reqID, req)
	defer l.a.dropPending(reqID)

	l.a.emit(api.Event{
		CorrID: newCorrID(),
		Type:   api.EventApprovalRequest,
		Approval: &api.ApprovalPayload{
			RequestID: reqID,
			ToolName:  toolName,
			Args:      args,
			Request:   req,
		},
	})

	synthetic := api.ActionProposal{
		Kind: api.ProposalTool,
		Tool: &api.ToolProposal{Name: toolName, Args: args},
	}
	var tool policy.Tool
	if t, ok := l.a.cfg.Tools.Get(toolName); ok {
		tool = t
	}
	if l.a.cfg.Policy.AutoResolve(ctx, l.a.policyContext(), synthetic, tool) {
		_ = req.Approve(true)
	}

	waitCtx := ctx
	if l.a.cfg.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.a.cfg.ApprovalTimeout)
		defer cancel()
	}
	approved, err := req.Wait(waitCtx)
	if err != nil {
		return false
	}
	return approved
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Action Execution
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func (l *turnLoop) runExecute(ctx context.Context, corr string, p api.ActionProposal, res api.ActionResult) api.ActionResult {
	if p.Execute == nil {
		res.Status = api.ResultError
		res.Content = "malformed execution proposal"
		return res
	}
	if err := l.a.cfg.Policy.Validate(ctx, l.a.policyContext(), p); err != nil {
		res.Status = api.ResultError
		res.Content = "refused: " + err.Error()
		return res
	}

	cb := ExecCallbacks{
		OnChunk: func(c ExecChunk) {
			l.a.emit(api.Event{
				CorrID:     corr,
				Type:       api.EventExecOutputChunk,
				ExecOutput: &api.ExecOutputPayload{Stream: c.Stream, Text: c.Text},
			})
		},
		OnApproval: func(name string, args api.Args) bool {
			return l.nestedGate(ctx, name, args)
		},
	}

	result, err := l.a.exec.Run(ctx, p.Execute.Language, p.Execute.Source, cb)

	// The terminal event closes the output family even on failure.
	l.a.emit(api.Event{
		CorrID: corr,
		Type:   api.EventExecOutput,
		ExecOutput: &api.ExecOutputPayload{
			Text:      result.Output,
			ExitCode:  result.ExitCode,
			Artifacts: result.Artifacts,
		},
	})

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Status = api.ResultError
		res.Content = "execution timed out"
		if result.Output != "" {
			res.Content += "; partial output:\n" + result.Output
		}
	case err != nil:
		res.Status = api.ResultError
		res.Content = fmt.Sprintf("execution failed: %v", err)
		if result.Output != "" {
			res.Content += "\n" + result.Output
		}
	case result.ExitCode != 0:
		res.Status = api.ResultError
		res.Content = fmt.Sprintf("%s\n(exit code %d)", result.Output, result.ExitCode)
	default:
		res.Status = api.ResultOK
		res.Content = result.Output
	}
	return res
}

func (l *turnLoop) runTool(ctx context.Context, corr string, p api.ActionProposal, res api.ActionResult) api.ActionResult {
	if p.Tool == nil {
		res.Status = api.ResultError
		res.Content = "malformed tool proposal"
		return res
	}
	if err := l.a.cfg.Policy.Validate(ctx, l.a.policyContext(), p); err != nil {
		msg := "refused: " + err.Error()
		l.a.emit(api.Event{
			CorrID: corr,
			Type:   api.EventToolOutput,
			ToolOutput: &api.ToolOutputPayload{
				ToolName: p.Tool.Name,
				Status:   "error",
				Error:    msg,
			},
		})
		res.Status = api.ResultError
		res.Content = msg
		return res
	}

	tool, ok := l.a.cfg.Tools.Get(p.Tool.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", p.Tool.Name)
		l.a.emit(api.Event{
			CorrID: corr,
			Type:   api.EventToolOutput,
			ToolOutput: &api.ToolOutputPayload{
				ToolName: p.Tool.Name,
				Status:   "error",
				Error:    msg,
			},
		})
		res.Status = api.ResultError
		res.Content = msg
		return res
	}

	tr, err := tool.Execute(ctx, p.Tool.Args)
	if err != nil {
		tr = api.ToolResult{Status: "error", Error: err.Error()}
	}
	l.a.emit(api.Event{
		CorrID: corr,
		Type:   api.EventToolOutput,
		ToolOutput: &api.ToolOutputPayload{
			ToolName: p.Tool.Name,
			Content:  tr.Content,
			Status:   tr.Status,
			Error:    tr.Error,
		},
	})

	if tr.Status == "success" {
		res.Status = api.ResultOK
		res.Content = tr.Content
	} else {
		res.Status = api.ResultError
		res.Content = tr.Error
		if tr.Content != "" {
			res.Content = tr.Content
		}
	}
	return res
}

func (l *turnLoop) runDelegate(ctx context.Context, corr string, p api.ActionProposal, res api.ActionResult) api.ActionResult {
	if p.Delegate == nil {
		res.Status = api.ResultError
		res.Content = "malformed delegation proposal"
		return res
	}
	if !l.a.cfg.AllowDelegation {
		msg := "delegation is not available to this agent"
		l.a.emit(api.Event{
			CorrID: corr,
			Type:   api.EventToolOutput,
			ToolOutput: &api.ToolOutputPayload{
				ToolName: api.FuncDelegateTask,
				Status:   "error",
				Error:    msg,
			},
		})
		res.Status = api.ResultError
		res.Content = msg
		return res
	}

	text, err := l.a.subs.delegate(ctx, p.Delegate)
	if err != nil {
		// The child's failure is recovered here: its text surfaces as an
		// ordinary error result and the parent loop continues.
		msg := fmt.Sprintf("subagent failed: %v", err)
		l.a.emit(api.Event{
			CorrID: corr,
			Type:   api.EventToolOutput,
			ToolOutput: &api.ToolOutputPayload{
				ToolName: api.FuncDelegateTask,
				Content:  text,
				Status:   "error",
				Error:    msg,
			},
		})
		res.Status = api.ResultError
		res.Content = msg
		return res
	}

	l.a.emit(api.Event{
		CorrID: corr,
		Type:   api.EventToolOutput,
		ToolOutput: &api.ToolOutputPayload{
			ToolName: api.FuncDelegateTask,
			Content:  text,
			Status:   "success",
		},
	})
	res.Status = api.ResultOK
	res.Content = text
	return res
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Message Building
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

const discardedPlaceholder = "(result withheld: a sibling action was rejected)"

func assistantMessage(resp api.ModelResponse) api.ModelMessage {
	return api.ModelMessage{
		Role:      "assistant",
		Content:   resp.Text,
		Proposals: resp.Proposals,
	}
}

func resultMessages(results []api.ActionResult) []api.ModelMessage {
	msgs := make([]api.ModelMessage, 0, len(results))
	for _, r := range results {
		content := r.Content
		if r.Status == api.ResultDiscarded {
			content = discardedPlaceholder
		}
		msgs = append(msgs, api.ModelMessage{
			Role:       "tool",
			Content:    content,
			ProposalID: r.ProposalID,
		})
	}
	return msgs
}

// proposalArgs flattens a proposal body into the argument map shown on its
// approval request.
func proposalArgs(p api.ActionProposal) api.Args {
	switch p.Kind {
	case api.ProposalExecute:
		if p.Execute != nil {
			return api.Args{"language": p.Execute.Language, "source": p.Execute.Source}
		}
	case api.ProposalTool:
		if p.Tool != nil {
			return p.Tool.Args
		}
	case api.ProposalDelegate:
		if p.Delegate != nil {
			return api.Args{"prompt": p.Delegate.Prompt, "max_turns": p.Delegate.MaxTurns}
		}
	}
	return api.Args{}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Identifiers
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func newCorrID() string    { return uuid.NewString()[:8] }
func newRequestID() string { return "req-" + uuid.NewString()[:8] }
func newCallID() string    { return "call-" + uuid.NewString()[:8] }
func newAgentID() string   { return "sub-" + uuid.NewString()[:8] }
