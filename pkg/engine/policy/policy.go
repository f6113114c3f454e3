// Package policy governs which proposed actions the engine may
// approve on its own and which it must never run at all.
package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Policy Interface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Tool is the minimal interface needed for policy decisions.
type Tool interface {
	Name() string
}

// ToolWithMeta extends Tool with a risk level.
type ToolWithMeta interface {
	Tool
	Risk() api.RiskLevel
}

// Policy decides how approval requests are resolved. Every proposal
// still raises exactly one approval request; AutoResolve only chooses
// whether the engine answers it instead of the caller.
type Policy interface {
	// AutoResolve reports whether the engine may approve the proposal
	// itself. tool is the resolved registry tool for tool-call
	// proposals and nil otherwise.
	AutoResolve(ctx context.Context, pctx api.PolicyContext, proposal api.ActionProposal, tool Tool) bool

	// Validate rejects proposals the engine must never run,
	// regardless of any approval decision.
	Validate(ctx context.Context, pctx api.PolicyContext, proposal api.ActionProposal) error
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// DefaultPolicy
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// DefaultPolicy implements the standard governance rules.
type DefaultPolicy struct {
	// DangerousPatterns mark code the engine never self-approves,
	// even in full-auto mode.
	DangerousPatterns []string
}

// NewDefaultPolicy creates a policy with the stock dangerous-pattern
// list.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{
		DangerousPatterns: []string{
			"rm -r", "rm -f", "rmdir",
			"sudo ", "chmod ", "chown ",
			"mkfs", "dd if=",
			"git push", "git reset --hard",
			"> /dev/", ":(){",
		},
	}
}

// AutoResolve implements Policy.
func (p *DefaultPolicy) AutoResolve(ctx context.Context, pctx api.PolicyContext, proposal api.ActionProposal, tool Tool) bool {
	switch pctx.ApprovalMode {
	case api.ModeSuggest:
		// Every decision belongs to the caller.
		return false

	case api.ModeFullAuto:
		// Everything except recognizably destructive code.
		if proposal.Kind == api.ProposalExecute && p.looksDangerous(proposal.Execute.Source) {
			return false
		}
		return true

	case api.ModeAuto:
		fallthrough
	default:
		return p.autoResolveAuto(proposal, tool)
	}
}

// autoResolveAuto implements the ModeAuto rules: read-only work runs
// unattended, anything that mutates state goes to the caller.
func (p *DefaultPolicy) autoResolveAuto(proposal api.ActionProposal, tool Tool) bool {
	switch proposal.Kind {
	case api.ProposalExecute:
		// Arbitrary code always goes to the caller.
		return false

	case api.ProposalDelegate:
		// The child's own actions gate themselves.
		return true

	case api.ProposalTool:
		if tm, ok := tool.(ToolWithMeta); ok {
			return tm.Risk() == api.RiskLow
		}
		return false

	default:
		return false
	}
}

// looksDangerous reports whether source matches a known destructive
// pattern.
func (p *DefaultPolicy) looksDangerous(source string) bool {
	for _, pattern := range p.DangerousPatterns {
		if strings.Contains(source, pattern) {
			return true
		}
	}
	return false
}

// Validate implements Policy. File-touching tool arguments must stay
// inside the workspace.
func (p *DefaultPolicy) Validate(ctx context.Context, pctx api.PolicyContext, proposal api.ActionProposal) error {
	if proposal.Kind != api.ProposalTool || proposal.Tool == nil || pctx.WorkspaceRoot == "" {
		return nil
	}
	for _, key := range []string{"path", "file_path", "dir"} {
		if path, ok := proposal.Tool.Args[key].(string); ok {
			if err := p.validatePath(path, pctx.WorkspaceRoot); err != nil {
				return err
			}
		}
	}
	return nil
}

// validatePath ensures a path resolves inside the workspace boundary.
func (p *DefaultPolicy) validatePath(targetPath, workspaceRoot string) error {
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(workspaceRoot, targetPath)
	}

	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return &PolicyError{
			Code:    CodeWorkspaceEscape,
			Message: fmt.Sprintf("invalid path: %v", err),
		}
	}
	absWorkspace, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return &PolicyError{
			Code:    CodeWorkspaceEscape,
			Message: fmt.Sprintf("invalid workspace root: %v", err),
		}
	}

	if !strings.HasPrefix(absPath, absWorkspace+string(filepath.Separator)) && absPath != absWorkspace {
		return &PolicyError{
			Code:    CodeWorkspaceEscape,
			Message: fmt.Sprintf("path %q escapes workspace boundary", targetPath),
		}
	}
	return nil
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// PolicyError
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

const (
	CodeDenied          = "policy_denied"
	CodeWorkspaceEscape = "workspace_escape"
)

// PolicyError represents a policy violation.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
