package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"AgentCore/cmd/ui"
	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/approval"
	"AgentCore/pkg/engine/runtime"
)

// approvalState carries the "approve everything" switch across the
// exchanges of one chat session.
type approvalState struct {
	approveAll bool
}

// runExchange sends one user input through the agent and renders the
// event stream until it ends. An approval request pauses rendering,
// puts the question to the user, and resumes the same stream.
func runExchange(ctx context.Context, agent *runtime.AgentInstance, input string, approver *ui.CLIApprover, state *approvalState) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := agent.Stream(ctx, input, api.StreamOptions{MaxTurns: maxTurnsFlag})
	if err != nil {
		return err
	}
	defer stream.Close()

	r := &renderer{}
	for {
		pending, err := consumeEvents(ctx, stream, cancel, r)
		if err != nil {
			return err
		}
		if pending == nil {
			return nil
		}
		if err := decide(ctx, pending, approver, state); err != nil {
			return err
		}
	}
}

// consumeEvents renders events until the stream ends or an approval
// needs the user. Raw mode is active for the abort keys the whole
// time, so everything prints through the ui helpers.
func consumeEvents(ctx context.Context, stream api.EventStream, cancel context.CancelFunc, r *renderer) (*api.ApprovalPayload, error) {
	restore := monitorCancellation(ctx, cancel)
	defer restore()

	stopSpinner, spinnerDone := ui.StartLoading("Thinking...")
	spinnerStopped := false
	stopLoading := func() {
		if !spinnerStopped {
			close(stopSpinner)
			<-spinnerDone
			spinnerStopped = true
		}
	}
	defer stopLoading()

	for {
		e, err := stream.Recv(ctx)
		if err != nil {
			stopLoading()
			r.closeLine()
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
		stopLoading()

		switch e.Type {
		case api.EventThoughtsChunk:
			if e.Thoughts == nil || e.Thoughts.Text == "" {
				continue
			}
			r.openFamily(e, "🤔 ", true)
			ui.Print(e.Thoughts.Text)

		case api.EventThoughts:
			r.closeFamily(e.CorrID)

		case api.EventResponseChunk:
			if e.Response == nil || e.Response.Text == "" {
				continue
			}
			r.openFamily(e, "🤖 ", false)
			ui.Print(e.Response.Text)

		case api.EventResponse:
			// Notice-only responses arrive without chunks; print the
			// terminal text when nothing streamed for this family.
			if !r.closeFamily(e.CorrID) && e.Response != nil && e.Response.Text != "" {
				ui.Printf("\n🤖 %s%s\n", r.label(e), e.Response.Text)
			}

		case api.EventApprovalRequest:
			if e.Approval == nil {
				return nil, fmt.Errorf("approval event missing its payload")
			}
			if e.Approval.Request != nil && e.Approval.Request.Resolved() {
				r.closeLine()
				ui.Printf("\n▶ auto-approved: %s%s\n", r.label(e), e.Approval.ToolName)
				continue
			}
			r.closeLine()
			return e.Approval, nil

		case api.EventExecOutputChunk:
			if e.ExecOutput == nil || e.ExecOutput.Text == "" {
				continue
			}
			r.openFamily(e, "⚙ output\n", true)
			ui.Print(e.ExecOutput.Text)

		case api.EventExecOutput:
			r.closeFamily(e.CorrID)
			if e.ExecOutput != nil && e.ExecOutput.ExitCode != 0 {
				ui.Printf("(exit code %d)\n", e.ExecOutput.ExitCode)
			}
			if e.ExecOutput != nil && len(e.ExecOutput.Artifacts) > 0 {
				ui.Printf("artifacts: %s\n", strings.Join(e.ExecOutput.Artifacts, ", "))
			}

		case api.EventToolOutput:
			r.closeLine()
			out := e.ToolOutput
			if out == nil {
				continue
			}
			ui.Printf("\n🔧 %s%s (%s)\n", r.label(e), out.ToolName, out.Status)
			if out.Status == "error" && out.Error != "" {
				ui.Printf("Error: %s\n", out.Error)
			} else if out.Content != "" {
				ui.Print(out.Content)
				if !strings.HasSuffix(out.Content, "\n") {
					ui.Print("\n")
				}
			}
		}
	}
}

// decide resolves one pending approval through the user.
func decide(ctx context.Context, pending *api.ApprovalPayload, approver *ui.CLIApprover, state *approvalState) error {
	req := pending.Request
	if req == nil {
		return fmt.Errorf("approval request %s has no resolution handle", pending.RequestID)
	}
	if req.Resolved() {
		return nil
	}
	if state != nil && state.approveAll {
		return ignoreLate(req.Approve(true))
	}

	approved, all, err := approver.Ask(ctx, *pending)
	if err != nil {
		// Without a usable prompt the safe decision is rejection.
		_ = req.Approve(false)
		return err
	}
	if state != nil && all {
		state.approveAll = true
	}
	return ignoreLate(req.Approve(approved))
}

// ignoreLate drops the race where the approval timed out while the
// user was still deciding.
func ignoreLate(err error) error {
	if errors.Is(err, approval.ErrAlreadyResolved) {
		ui.Println("(the request resolved before your decision arrived)")
		return nil
	}
	return err
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Renderer
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// renderer tracks which chunk family currently owns the terminal
// line so interleaved streams reopen with a fresh prefix.
type renderer struct {
	openCorr string
	dim      bool
}

// label marks events from subagents so relayed output is attributable.
func (r *renderer) label(e api.Event) string {
	if e.AgentID == api.RootAgentID {
		return ""
	}
	return "[" + e.AgentID + "] "
}

func (r *renderer) openFamily(e api.Event, prefix string, dim bool) {
	if r.openCorr == e.CorrID {
		return
	}
	r.closeLine()
	r.openCorr = e.CorrID
	r.dim = dim
	ui.Print("\n" + prefix + r.label(e))
	if dim {
		ui.Print("\033[2m")
	}
}

// closeFamily ends the family's line if it is the open one and
// reports whether any of its chunks were rendered.
func (r *renderer) closeFamily(corrID string) bool {
	if r.openCorr != corrID {
		return false
	}
	r.closeLine()
	return true
}

func (r *renderer) closeLine() {
	if r.openCorr == "" {
		return
	}
	if r.dim {
		ui.Print("\033[0m")
	}
	ui.Print("\n")
	r.openCorr = ""
	r.dim = false
}
