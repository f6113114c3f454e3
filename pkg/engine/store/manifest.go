package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// ManifestStore
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// manifestFile is the metadata file kept next to the turn logs.
const manifestFile = "meta.json"

// Manifest describes one stored session.
type Manifest struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title,omitempty"`
	ApprovalMode string    `json:"approval_mode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Turns        int       `json:"turns"`
}

// manifestWrapper wraps Manifest with a version for future migration.
type manifestWrapper struct {
	Version  int       `json:"version"`
	Manifest *Manifest `json:"manifest"`
}

// ManifestStore keeps one meta.json per session directory.
type ManifestStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewManifestStore creates a manifest store rooted at the same
// sessions directory the turn logs live under.
func NewManifestStore(root string) (*ManifestStore, error) {
	baseDir := filepath.Join(root, "sessions")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &ManifestStore{baseDir: baseDir}, nil
}

func (s *ManifestStore) path(sessionID string) (string, error) {
	if err := validateID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, sessionID, manifestFile), nil
}

// Get loads the manifest for one session.
func (s *ManifestStore) Get(ctx context.Context, sessionID string) (*Manifest, error) {
	p, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session manifest: %w", err)
	}

	var wrapper manifestWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal session manifest: %w", err)
	}
	if wrapper.Manifest == nil {
		return nil, fmt.Errorf("%w: empty manifest for %s", ErrCorruptRecord, sessionID)
	}
	return wrapper.Manifest, nil
}

// Put writes the manifest atomically via a temp file and rename.
func (s *ManifestStore) Put(ctx context.Context, m *Manifest) error {
	p, err := s.path(m.SessionID)
	if err != nil {
		return err
	}

	wrapper := manifestWrapper{Version: 1, Manifest: m}
	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmpPath := p + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp manifest: %w", err)
	}
	return nil
}

// Del removes a session directory and everything in it.
func (s *ManifestStore) Del(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns every session manifest, most recently updated first.
// Directories without a readable manifest are skipped.
func (s *ManifestStore) List(ctx context.Context) ([]*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var manifests []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name(), manifestFile))
		if err != nil {
			continue
		}
		var wrapper manifestWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Manifest == nil {
			continue
		}
		manifests = append(manifests, wrapper.Manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].UpdatedAt.After(manifests[j].UpdatedAt)
	})
	return manifests, nil
}
