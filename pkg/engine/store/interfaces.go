// Package store persists agent sessions and carries events between
// the engine and its caller.
package store

import (
	"context"
	"errors"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// SessionLog Interface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// SessionLog is the append-only turn log for one session. Each agent
// in the session (the root and every subagent) writes to its own file,
// keyed by agent identifier.
type SessionLog interface {
	// Append persists turns for the given agent. Records are written
	// in order and are never rewritten.
	Append(ctx context.Context, agentID string, turns []api.Turn) error

	// Load returns every previously persisted turn for the given
	// agent, oldest first. A missing log yields an empty slice.
	Load(ctx context.Context, agentID string) ([]api.Turn, error)
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Standard Errors
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrSessionEscape indicates an identifier that would resolve to a
	// path outside the session directory.
	ErrSessionEscape = errors.New("identifier escapes session directory")

	// ErrCorruptRecord indicates a malformed record before the end of a
	// log file. Only the final record may be damaged by a torn write;
	// damage anywhere else means the log cannot be trusted.
	ErrCorruptRecord = errors.New("corrupt session record")
)
