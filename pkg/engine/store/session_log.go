package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/logger"
)

// recordVersion identifies the on-disk envelope layout. Bump it when
// the record shape changes so older logs stay recognizable.
const recordVersion = 1

// turnRecord is the envelope written around every persisted turn.
type turnRecord struct {
	Version int       `json:"version"`
	Ts      time.Time `json:"ts"`
	Turn    *api.Turn `json:"turn"`
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// FileSessionLog
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// FileSessionLog keeps one JSONL file per agent under a session
// directory. Writes are append-only, so a crash can damage at most
// the final record of a file.
type FileSessionLog struct {
	dir   string
	fsync bool
	mu    sync.Mutex
}

// NewFileSessionLog opens or creates the directory for one session.
// With fsync set, every append reaches stable storage before the call
// returns.
func NewFileSessionLog(root, sessionID string, fsync bool) (*FileSessionLog, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileSessionLog{dir: dir, fsync: fsync}, nil
}

// Dir returns the session directory backing this log.
func (l *FileSessionLog) Dir() string { return l.dir }

func (l *FileSessionLog) path(agentID string) (string, error) {
	if err := validateID(agentID); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, agentID+".jsonl"), nil
}

// validateID rejects identifiers that could traverse outside the
// session directory.
func validateID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrSessionEscape, id)
	}
	return nil
}

// Append writes turns to the agent's log file, one record per line.
func (l *FileSessionLog) Append(ctx context.Context, agentID string, turns []api.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	path, err := l.path(agentID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	for i := range turns {
		rec := turnRecord{Version: recordVersion, Ts: time.Now().UTC(), Turn: &turns[i]}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal turn record: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write turn record: %w", err)
		}
	}
	if l.fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync session log: %w", err)
		}
	}
	return nil
}

// Load reads back every turn for the agent, oldest first. A missing
// file is an empty history. An unparsable final record is dropped (a
// torn write from an interrupted process); an unparsable record
// anywhere earlier fails with ErrCorruptRecord.
func (l *FileSessionLog) Load(ctx context.Context, agentID string) ([]api.Turn, error) {
	path, err := l.path(agentID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	turns := make([]api.Turn, 0, len(lines))
	for i, line := range lines {
		var rec turnRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Turn == nil {
			if i == len(lines)-1 {
				logger.Warn("SessionLog", "Dropping truncated final record", map[string]interface{}{
					"agent_id": agentID,
					"record":   i,
				})
				break
			}
			return nil, fmt.Errorf("%w: agent %s record %d", ErrCorruptRecord, agentID, i)
		}
		turns = append(turns, *rec.Turn)
	}
	return turns, nil
}
