package policy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"AgentCore/pkg/engine/api"
)

type fakeTool struct {
	name string
	risk api.RiskLevel
}

func (f fakeTool) Name() string        { return f.name }
func (f fakeTool) Risk() api.RiskLevel { return f.risk }

func execProposal(source string) api.ActionProposal {
	return api.ActionProposal{
		ID:      "p1",
		Kind:    api.ProposalExecute,
		Execute: &api.ExecuteProposal{Language: "bash", Source: source},
	}
}

func toolProposal(name string, args api.Args) api.ActionProposal {
	return api.ActionProposal{
		ID:   "p1",
		Kind: api.ProposalTool,
		Tool: &api.ToolProposal{Name: name, Args: args},
	}
}

func TestAutoResolveByMode(t *testing.T) {
	p := NewDefaultPolicy()
	ctx := context.Background()

	delegate := api.ActionProposal{
		ID:       "p1",
		Kind:     api.ProposalDelegate,
		Delegate: &api.DelegateProposal{Prompt: "summarize the repo"},
	}

	cases := []struct {
		name     string
		mode     api.ApprovalMode
		proposal api.ActionProposal
		tool     Tool
		want     bool
	}{
		{"suggest never self-approves exec", api.ModeSuggest, execProposal("echo hi"), nil, false},
		{"suggest never self-approves reads", api.ModeSuggest, toolProposal("read_file", nil), fakeTool{"read_file", api.RiskLow}, false},
		{"auto keeps exec with the caller", api.ModeAuto, execProposal("echo hi"), nil, false},
		{"auto self-approves low-risk tools", api.ModeAuto, toolProposal("read_file", nil), fakeTool{"read_file", api.RiskLow}, true},
		{"auto keeps high-risk tools with the caller", api.ModeAuto, toolProposal("write_file", nil), fakeTool{"write_file", api.RiskHigh}, false},
		{"auto self-approves delegation", api.ModeAuto, delegate, nil, true},
		{"full-auto self-approves exec", api.ModeFullAuto, execProposal("echo hi"), nil, true},
		{"full-auto still gates destructive code", api.ModeFullAuto, execProposal("rm -rf /"), nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pctx := api.PolicyContext{AgentID: api.RootAgentID, ApprovalMode: tc.mode}
			if got := p.AutoResolve(ctx, pctx, tc.proposal, tc.tool); got != tc.want {
				t.Errorf("AutoResolve = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateWorkspaceBoundary(t *testing.T) {
	p := NewDefaultPolicy()
	ctx := context.Background()
	root := t.TempDir()
	pctx := api.PolicyContext{AgentID: api.RootAgentID, WorkspaceRoot: root}

	cases := []struct {
		name    string
		args    api.Args
		wantErr bool
	}{
		{"relative inside", api.Args{"path": "notes.txt"}, false},
		{"absolute inside", api.Args{"path": filepath.Join(root, "sub", "a.txt")}, false},
		{"parent traversal", api.Args{"path": "../outside.txt"}, true},
		{"absolute outside", api.Args{"path": "/etc/passwd"}, true},
		{"dir key checked too", api.Args{"dir": "../.."}, true},
		{"no path args", api.Args{"pattern": "*.go"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Validate(ctx, pctx, toolProposal("read_file", tc.args))
			if tc.wantErr && err == nil {
				t.Error("Validate allowed an escaping path")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate rejected a safe path: %v", err)
			}
			if tc.wantErr {
				var perr *PolicyError
				if !errors.As(err, &perr) || perr.Code != CodeWorkspaceEscape {
					t.Errorf("error = %v, want PolicyError with %s", err, CodeWorkspaceEscape)
				}
			}
		})
	}
}

func TestValidateIgnoresNonToolProposals(t *testing.T) {
	p := NewDefaultPolicy()
	pctx := api.PolicyContext{WorkspaceRoot: t.TempDir()}
	if err := p.Validate(context.Background(), pctx, execProposal("cat ../secret")); err != nil {
		t.Errorf("Validate rejected an execute proposal: %v", err)
	}
}
