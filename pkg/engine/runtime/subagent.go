package runtime

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/logger"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Subagent Manager
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// subagentManager admits, runs, and tears down one parent's child
// instances. Admission is a counting semaphore: a delegation past the
// cap blocks until a slot frees.
type subagentManager struct {
	parent *AgentInstance
	sem    *semaphore.Weighted

	mu       sync.Mutex
	children map[string]*AgentInstance
}

func newSubagentManager(parent *AgentInstance, max int) *subagentManager {
	return &subagentManager{
		parent:   parent,
		sem:      semaphore.NewWeighted(int64(max)),
		children: make(map[string]*AgentInstance),
	}
}

// delegate runs one delegation to completion and returns the child's final
// response text. The child's events are relayed into the parent stream
// unchanged; the child is torn down on every exit path.
func (m *subagentManager) delegate(ctx context.Context, d *api.DelegateProposal) (string, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)

	child, err := m.spawn()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.children[child.agentID] = child
	m.mu.Unlock()

	logger.Info("Subagent", "Delegation admitted", map[string]interface{}{
		"parent": m.parent.agentID,
		"child":  child.agentID,
	})

	defer func() {
		m.mu.Lock()
		delete(m.children, child.agentID)
		m.mu.Unlock()
		_ = child.Close(context.Background())
	}()

	budget := d.MaxTurns
	if budget <= 0 {
		budget = m.parent.cfg.SubagentTurns
	}
	stream, err := child.Stream(ctx, d.Prompt, api.StreamOptions{MaxTurns: budget})
	if err != nil {
		return "", err
	}

	finalText := ""
	for {
		e, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return finalText, nil
		}
		if err != nil {
			return finalText, err
		}
		if e.Type == api.EventResponse && e.Response != nil {
			finalText = e.Response.Text
		}
		m.parent.relay(e)
	}
}

// spawn builds a child sharing the parent's model configuration,
// instructions, and sandbox mode, with a fresh execution session, its own
// identity, and no delegation of its own.
func (m *subagentManager) spawn() (*AgentInstance, error) {
	cfg := m.parent.cfg
	cfg.AgentID = newAgentID()
	cfg.AllowDelegation = false
	if cfg.NewModel != nil {
		cfg.Model = cfg.NewModel()
	}
	if cfg.Tools != nil {
		cfg.Tools = cfg.Tools.Without()
	}
	return NewAgentInstance(cfg)
}

// teardown closes every live child. Children close their own children
// first, so the whole tree unwinds leaf-upward.
func (m *subagentManager) teardown(ctx context.Context) {
	m.mu.Lock()
	kids := make([]*AgentInstance, 0, len(m.children))
	for _, c := range m.children {
		kids = append(kids, c)
	}
	m.children = make(map[string]*AgentInstance)
	m.mu.Unlock()

	for _, c := range kids {
		if err := c.Close(ctx); err != nil {
			logger.Warn("Subagent", "Child teardown failed", map[string]interface{}{
				"child": c.agentID,
				"error": err.Error(),
			})
		}
	}
}
