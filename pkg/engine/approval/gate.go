// Package approval provides the one-shot gate that guards every proposed
// action before it is allowed to execute.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyResolved is returned by Approve when the request was resolved
// before. The original decision is never altered.
var ErrAlreadyResolved = errors.New("approval request already resolved")

// Request is a pending approval for a single proposed action. It is created
// by the producer, emitted on the event stream, and resolved exactly once by
// whoever consumes the stream. The producer suspends on Wait until then.
type Request struct {
	toolName  string
	args      map[string]any
	createdAt time.Time

	mu       sync.Mutex
	resolved bool
	approved bool
	done     chan struct{}
}

// NewRequest creates an unresolved request for the named action.
func NewRequest(toolName string, args map[string]any) *Request {
	return &Request{
		toolName:  toolName,
		args:      args,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ToolName returns the name of the action awaiting approval.
func (r *Request) ToolName() string { return r.toolName }

// Args returns the proposed arguments of the action awaiting approval.
func (r *Request) Args() map[string]any { return r.args }

// CreatedAt returns when the request was raised.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// Approve resolves the request. The first call wins; every later call
// returns ErrAlreadyResolved without changing the stored decision or waking
// the waiter a second time.
func (r *Request) Approve(approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true
	r.approved = approved
	close(r.done)
	return nil
}

// Wait suspends until the request is resolved and returns the decision.
// A context deadline bounds the wait: the ctx error is returned and the
// request stays unresolved, so a hard cancel can still reject it.
func (r *Request) Wait(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approved, nil
}

// Resolved reports whether a decision has been recorded.
func (r *Request) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Decision returns the recorded decision. The second return is false while
// the request is still pending.
func (r *Request) Decision() (approved, resolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approved, r.resolved
}
