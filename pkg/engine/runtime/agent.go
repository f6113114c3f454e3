package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/engine/approval"
	"AgentCore/pkg/engine/policy"
	"AgentCore/pkg/engine/store"
	"AgentCore/pkg/engine/supervisor"
	"AgentCore/pkg/engine/tools"
	"AgentCore/pkg/logger"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Agent Configuration
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// AgentConfig assembles the dependencies of one agent instance. Zero-value
// fields get working defaults where a default exists.
type AgentConfig struct {
	// AgentID is the instance's identity on the event stream. Empty
	// means the root identity.
	AgentID   string
	SessionID string

	Instructions string
	Temperature  float64

	// Model is this instance's model session.
	Model Model
	// NewModel builds a fresh model session for a subagent. Nil reuses
	// Model, which is correct for stateless backends.
	NewModel func() Model

	// NewExec builds a fresh execution session. Called once for this
	// instance and once per subagent.
	NewExec func() ExecSession

	Tools  *tools.Registry
	Policy policy.Policy

	Log       store.SessionLog
	Manifests *store.ManifestStore

	ApprovalMode    api.ApprovalMode
	ApprovalTimeout time.Duration
	ExecTimeout     time.Duration

	WorkspaceRoot string
	Sandbox       string

	MaxSubagents    int
	SubagentTurns   int
	AllowDelegation bool
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Agent Instance
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// AgentInstance is one running agent: a model session, an execution
// session, a tool set, and the turn loop over them. It implements
// api.Engine.
type AgentInstance struct {
	cfg     AgentConfig
	agentID string

	model Model
	exec  ExecSession
	sup   *supervisor.Supervisor
	subs  *subagentManager

	mu        sync.Mutex
	started   bool
	closed    bool
	streaming bool
	loaded    bool
	seq       int64
	turns     []api.Turn
	events    *store.ChannelEventStream
	cancelRun context.CancelFunc
	runDone   chan struct{}
	pending   map[string]*approval.Request
}

// NewAgentInstance builds an instance from the given configuration. The
// instance's resources are started lazily on the first Stream call.
func NewAgentInstance(cfg AgentConfig) (*AgentInstance, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent needs a model session")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = api.RootAgentID
	}
	if cfg.NewExec == nil {
		workDir, sandbox := cfg.WorkspaceRoot, cfg.Sandbox
		cfg.NewExec = func() ExecSession { return NewLocalExecSession(workDir, sandbox) }
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.DefaultRegistry(cfg.WorkspaceRoot)
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.NewDefaultPolicy()
	}
	if cfg.ApprovalMode == "" {
		cfg.ApprovalMode = api.ModeSuggest
	}
	if cfg.MaxSubagents <= 0 {
		cfg.MaxSubagents = 5
	}
	if cfg.SubagentTurns <= 0 {
		cfg.SubagentTurns = 10
	}

	a := &AgentInstance{
		cfg:     cfg,
		agentID: cfg.AgentID,
		model:   cfg.Model,
		exec:    cfg.NewExec(),
		pending: make(map[string]*approval.Request),
	}
	// Acquisition order is fixed: model first, execution second. Teardown
	// runs in reverse on every exit path.
	a.sup = supervisor.New(
		lifecycleResource("model", a.model),
		lifecycleResource("execution", a.exec),
	)
	a.subs = newSubagentManager(a, cfg.MaxSubagents)
	return a, nil
}

func lifecycleResource(label string, v any) supervisor.Resource {
	res := supervisor.FuncResource{Label: label}
	if ss, ok := v.(StartStopper); ok {
		res.OnStart = ss.Start
		res.OnStop = ss.Stop
	}
	return res
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Stream
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func (a *AgentInstance) Stream(ctx context.Context, prompt string, opts api.StreamOptions) (api.EventStream, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.New("agent instance is closed")
	}
	if a.streaming {
		a.mu.Unlock()
		return nil, errors.New("a stream is already active on this instance")
	}
	a.streaming = true
	a.mu.Unlock()

	fail := func(err error) (api.EventStream, error) {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
		return nil, err
	}

	if err := a.ensureStarted(ctx); err != nil {
		return fail(err)
	}
	if err := a.ensureHistory(ctx); err != nil {
		return fail(fmt.Errorf("%w: %v", api.ErrPersistenceFailure, err))
	}

	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.events = store.NewChannelEventStream(128)
	a.cancelRun = cancel
	a.runDone = make(chan struct{})
	events := a.events
	a.mu.Unlock()

	logger.Info("Agent", "Stream opened", map[string]interface{}{
		"agent":     a.agentID,
		"max_turns": opts.MaxTurns,
	})

	go a.run(runCtx, prompt, opts)
	return events, nil
}

// run drives one exchange to completion and closes the event stream.
func (a *AgentInstance) run(ctx context.Context, prompt string, opts api.StreamOptions) {
	loop := newTurnLoop(a, opts.MaxTurns)
	turn, runErr := loop.run(ctx, prompt)

	var fatal error
	switch {
	case runErr == nil:
		fatal = a.persistTurn(turn)
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		// Hard cancel: keep what already happened, end the stream clean.
		fatal = a.persistTurn(turn)
	default:
		fatal = runErr
	}

	a.mu.Lock()
	events := a.events
	done := a.runDone
	a.events = nil
	a.cancelRun = nil
	a.runDone = nil
	a.streaming = false
	a.mu.Unlock()

	if fatal != nil {
		logger.Error("Agent", "Stream ended with fatal condition", map[string]interface{}{
			"agent": a.agentID,
			"error": fatal.Error(),
		})
		_ = events.CloseWithError(fatal)
	} else {
		_ = events.Close()
	}
	close(done)
}

// persistTurn appends the exchange to the session log. A turn with no
// completed rounds is not recorded.
func (a *AgentInstance) persistTurn(turn *api.Turn) error {
	if turn == nil || len(turn.Rounds) == 0 {
		return nil
	}
	a.mu.Lock()
	a.turns = append(a.turns, *turn)
	turnCount := len(a.turns)
	a.mu.Unlock()

	if a.cfg.Log == nil {
		return nil
	}
	// Persistence must finish even when the run context is gone.
	ctx := context.Background()
	if err := a.cfg.Log.Append(ctx, a.agentID, []api.Turn{*turn}); err != nil {
		logger.Error("Agent", "Session append failed", map[string]interface{}{
			"agent": a.agentID,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", api.ErrPersistenceFailure, err)
	}
	a.touchManifest(ctx, turn, turnCount)
	return nil
}

// touchManifest keeps the session's directory entry current. Best effort;
// the session log is the source of truth.
func (a *AgentInstance) touchManifest(ctx context.Context, turn *api.Turn, turnCount int) {
	if a.cfg.Manifests == nil || a.agentID != api.RootAgentID || a.cfg.SessionID == "" {
		return
	}
	now := time.Now().UTC()
	m, err := a.cfg.Manifests.Get(ctx, a.cfg.SessionID)
	if err != nil {
		m = &store.Manifest{
			SessionID:    a.cfg.SessionID,
			ApprovalMode: string(a.cfg.ApprovalMode),
			CreatedAt:    now,
		}
	}
	if m.Title == "" {
		m.Title = sessionTitle(turn.Input)
	}
	m.UpdatedAt = now
	m.Turns = turnCount
	if err := a.cfg.Manifests.Put(ctx, m); err != nil {
		logger.Warn("Agent", "Manifest update failed", map[string]interface{}{
			"session": a.cfg.SessionID,
			"error":   err.Error(),
		})
	}
}

func sessionTitle(input string) string {
	const max = 80
	if len(input) > max {
		return input[:max]
	}
	return input
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Close
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Close hard-cancels the instance: pending approvals are rejected, the
// in-flight run is stopped, live subagents are torn down, then the
// instance's own resources are released in reverse order. Idempotent.
func (a *AgentInstance) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancelRun
	done := a.runDone
	pend := make([]*approval.Request, 0, len(a.pending))
	for _, r := range a.pending {
		pend = append(pend, r)
	}
	a.pending = make(map[string]*approval.Request)
	a.mu.Unlock()

	logger.Info("Agent", "Closing instance", map[string]interface{}{
		"agent":             a.agentID,
		"pending_approvals": len(pend),
	})

	for _, r := range pend {
		_ = r.Approve(false)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	a.subs.teardown(ctx)
	return a.sup.Stop(ctx)
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Internals
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func (a *AgentInstance) ensureStarted(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.sup.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

// ensureHistory replays the persisted conversation. Only the root log is
// replayed; subagent logs are write-only audit records.
func (a *AgentInstance) ensureHistory(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return nil
	}
	a.loaded = true
	if a.cfg.Log == nil || a.agentID != api.RootAgentID {
		return nil
	}
	turns, err := a.cfg.Log.Load(ctx, a.agentID)
	if err != nil {
		return err
	}
	a.turns = turns
	if len(turns) > 0 {
		logger.Info("Agent", "Replayed session history", map[string]interface{}{
			"agent": a.agentID,
			"turns": len(turns),
		})
	}
	return nil
}

// Turns returns a snapshot of the in-memory conversation.
func (a *AgentInstance) Turns() []api.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]api.Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// emit stamps and sends one of this instance's own events. Relayed
// subagent events bypass it and keep their original stamps.
func (a *AgentInstance) emit(e api.Event) {
	a.mu.Lock()
	a.seq++
	e.AgentID = a.agentID
	e.Seq = a.seq
	e.Ts = time.Now().UTC()
	events := a.events
	a.mu.Unlock()

	if events == nil {
		return
	}
	if err := events.Send(e); err != nil {
		logger.Debug("Agent", "Event dropped after stream close", map[string]interface{}{
			"agent": a.agentID,
			"type":  string(e.Type),
		})
	}
}

// relay forwards a subagent event into this instance's stream unchanged.
func (a *AgentInstance) relay(e api.Event) {
	a.mu.Lock()
	events := a.events
	a.mu.Unlock()
	if events == nil {
		return
	}
	_ = events.Send(e)
}

func (a *AgentInstance) trackPending(id string, r *approval.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[id] = r
}

func (a *AgentInstance) dropPending(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, id)
}

func (a *AgentInstance) policyContext() api.PolicyContext {
	return api.PolicyContext{
		AgentID:       a.agentID,
		ApprovalMode:  a.cfg.ApprovalMode,
		WorkspaceRoot: a.cfg.WorkspaceRoot,
	}
}

// toolSchemas assembles what this instance advertises to the model: the
// registry plus the engine's own functions.
func (a *AgentInstance) toolSchemas() []api.ToolSchema {
	schemas := a.cfg.Tools.Schemas()
	schemas = append(schemas, executeCodeSchema())
	if a.cfg.AllowDelegation {
		schemas = append(schemas, delegateTaskSchema())
	}
	return schemas
}

// historyMessages flattens the conversation into the model-facing message
// history. Results of a truncated round are withheld: the model sees a
// fixed placeholder instead of output it was never meant to receive.
func (a *AgentInstance) historyMessages() []api.ModelMessage {
	a.mu.Lock()
	turns := a.turns
	a.mu.Unlock()

	var msgs []api.ModelMessage
	for _, t := range turns {
		if t.Input != "" {
			msgs = append(msgs, api.ModelMessage{Role: "user", Content: t.Input})
		}
		for _, r := range t.Rounds {
			msgs = append(msgs, assistantMessage(r.Response))
			msgs = append(msgs, resultMessages(r.Results)...)
		}
	}
	return msgs
}
