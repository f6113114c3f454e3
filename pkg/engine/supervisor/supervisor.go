// Package supervisor ties a bundle of independently-lifecycled resources
// (model session, execution session, tool connections) to one scope.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"AgentCore/pkg/logger"
)

// ErrNotStarted is returned by Start after the supervisor has been stopped.
// A stopped supervisor is never restarted; build a new one.
var ErrNotStarted = errors.New("supervisor already stopped")

// Resource is one externally-lifecycled dependency managed as part of a
// bundle. Start and Stop must be safe to call from the owning goroutine.
type Resource interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FuncResource adapts start/stop closures into a Resource. Either closure
// may be nil.
type FuncResource struct {
	Label   string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (f FuncResource) Name() string { return f.Label }

func (f FuncResource) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f FuncResource) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Supervisor acquires its resources in declaration order and releases them
// in reverse. A failed Start rolls back the already-acquired prefix. Stop is
// idempotent and must run on every exit path, including interruption.
type Supervisor struct {
	resources []Resource

	mu      sync.Mutex
	started []Resource
	stopped bool
}

// New creates a supervisor over the given resources. Order matters: it is
// the acquisition order.
func New(resources ...Resource) *Supervisor {
	return &Supervisor{resources: resources}
}

// Start acquires every resource in order. On any failure the resources
// acquired so far are stopped in reverse and the failure is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrNotStarted
	}

	for _, r := range s.resources {
		if err := r.Start(ctx); err != nil {
			logger.Warn("Supervisor", "Resource start failed, rolling back", map[string]interface{}{
				"resource": r.Name(),
				"error":    err.Error(),
			})
			s.stopLocked(ctx)
			return fmt.Errorf("start %s: %w", r.Name(), err)
		}
		s.started = append(s.started, r)
	}
	return nil
}

// Stop releases the acquired resources in reverse order. Calling it again
// is a no-op. Every resource gets its Stop even when an earlier one fails;
// the first failure is returned.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	s.stopped = true

	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		r := s.started[i]
		if err := r.Stop(ctx); err != nil {
			logger.Warn("Supervisor", "Resource stop failed", map[string]interface{}{
				"resource": r.Name(),
				"error":    err.Error(),
			})
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", r.Name(), err)
			}
		}
	}
	s.started = nil
	return firstErr
}
