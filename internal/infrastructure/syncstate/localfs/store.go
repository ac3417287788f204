// Package localfs persists the sync pass state as one JSON file next to
// the indexer. The file is the whole state: read fully before a pass,
// rewritten fully after a successful one.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted state. A missing file is an empty state, not an
// error.
func (s *Store) Load(_ context.Context) (domain.SyncState, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state %s: %w", s.path, err)
	}

	var state domain.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse sync state %s: %w", s.path, err)
	}
	if state == nil {
		state = domain.SyncState{}
	}
	return state, nil
}

// Save atomically replaces the state file via a temp file rename so a crash
// mid-write never leaves a truncated state behind.
func (s *Store) Save(_ context.Context, state domain.SyncState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sync-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace sync state %s: %w", s.path, err)
	}
	return nil
}
