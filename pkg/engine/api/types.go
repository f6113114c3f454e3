package api

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Action Proposals
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ProposalKind identifies what a model step asked the engine to do.
type ProposalKind string

const (
	ProposalExecute  ProposalKind = "code_execution"
	ProposalTool     ProposalKind = "tool_call"
	ProposalDelegate ProposalKind = "delegation"
)

// Reserved function names the engine itself exposes to the model. Anything
// else in a tool call is looked up in the tool registry.
const (
	FuncExecuteCode  = "execute_code"
	FuncDelegateTask = "delegate_task"
)

// ActionProposal is a single model-generated request to act. Strict union:
// exactly one body is non-nil, matching Kind.
type ActionProposal struct {
	ID   string       `json:"id"`
	Kind ProposalKind `json:"kind"`

	Execute  *ExecuteProposal  `json:"execute,omitempty"`
	Tool     *ToolProposal     `json:"tool,omitempty"`
	Delegate *DelegateProposal `json:"delegate,omitempty"`
}

// ExecuteProposal asks the execution session to run source text.
type ExecuteProposal struct {
	Language string `json:"language,omitempty"`
	Source   string `json:"source"`
}

// ToolProposal asks a named tool back-end to run with structured arguments.
type ToolProposal struct {
	Name string `json:"name"`
	Args Args   `json:"args"`
}

// DelegateProposal asks for a whole sub-task to run in a fresh child
// instance.
type DelegateProposal struct {
	Prompt   string `json:"prompt"`
	MaxTurns int    `json:"max_turns,omitempty"` // 0 means the default budget
}

// DisplayName returns the action name used on approval requests and tool
// output events.
func (p ActionProposal) DisplayName() string {
	switch p.Kind {
	case ProposalExecute:
		return FuncExecuteCode
	case ProposalDelegate:
		return FuncDelegateTask
	case ProposalTool:
		if p.Tool != nil {
			return p.Tool.Name
		}
	}
	return string(p.Kind)
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Turns
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ModelResponse is one model step: text plus zero or more proposals.
type ModelResponse struct {
	Thoughts  string           `json:"thoughts,omitempty"`
	Text      string           `json:"text"`
	Proposals []ActionProposal `json:"proposals,omitempty"`
}

// ResultStatus classifies a fed-back action outcome.
type ResultStatus string

const (
	ResultOK        ResultStatus = "ok"
	ResultError     ResultStatus = "error"
	ResultRejected  ResultStatus = "rejected"
	ResultTimeout   ResultStatus = "timeout"
	ResultDiscarded ResultStatus = "discarded" // Completed sibling of a rejected action
)

// ActionResult is the outcome of one dispatched proposal.
type ActionResult struct {
	ProposalID string       `json:"proposal_id"`
	CorrID     string       `json:"corr_id"`
	Status     ResultStatus `json:"status"`
	Content    string       `json:"content"`
}

// Round is one model step inside an exchange: the step's response plus the
// results fed back from its dispatched actions.
type Round struct {
	Response ModelResponse  `json:"response"`
	Results  []ActionResult `json:"results,omitempty"`
}

// Turn is one full exchange: the caller's input and every model round until
// the model stopped proposing actions. Conversations are ordered Turn
// sequences, ephemeral in memory; only the serialized form persists.
type Turn struct {
	Input  string  `json:"input"` // User prompt opening the exchange
	Rounds []Round `json:"rounds"`
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Model Messages
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ModelMessage is one entry of the ordered history sent to the model
// session.
type ModelMessage struct {
	Role    string `json:"role"` // "system" | "user" | "assistant" | "tool"
	Content string `json:"content"`

	// Assistant messages carry the step's proposals; tool messages answer
	// one proposal.
	Proposals  []ActionProposal `json:"proposals,omitempty"`
	ProposalID string           `json:"proposal_id,omitempty"`
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Tools
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ToolSchema describes a tool to the model. Safe to serialize into a model
// request.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"` // JSON schema
}

// ToolResult is the outcome of a tool back-end execution.
type ToolResult struct {
	Content string `json:"content"`
	Status  string `json:"status"` // "success" | "error"
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RiskLevel classifies how much damage a tool can do unattended.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Policy Context
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// PolicyContext is the input for approval-policy decisions. Keep it stable
// and serializable for audit.
type PolicyContext struct {
	AgentID       string       `json:"agent_id"`
	ApprovalMode  ApprovalMode `json:"approval_mode"`
	WorkspaceRoot string       `json:"workspace_root,omitempty"`
}
