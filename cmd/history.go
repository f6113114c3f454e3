package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type historyEntry struct {
	Ts    time.Time `json:"ts"`
	Input string    `json:"input"`
}

// InputHistory persists the prompts a user typed so Ctrl+P recall
// survives restarts. One JSON record per line.
type InputHistory struct {
	path string
	mu   sync.Mutex
}

func NewInputHistory(workspaceRoot string) (*InputHistory, error) {
	dir := filepath.Join(workspaceRoot, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &InputHistory{path: filepath.Join(dir, "input.jsonl")}, nil
}

// Load returns all recorded inputs, oldest first. Malformed lines are
// skipped rather than failing the whole file.
func (h *InputHistory) Load() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var inputs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry historyEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Input != "" {
			inputs = append(inputs, entry.Input)
		}
	}
	return inputs, nil
}

// Append records one input.
func (h *InputHistory) Append(input string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(historyEntry{Ts: time.Now(), Input: input})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}
