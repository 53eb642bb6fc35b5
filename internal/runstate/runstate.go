// Package runstate persists the resumption hint for the active run: its id,
// current phase, and title, written on every phase transition.
//
// The persisted copy is not authoritative. A reattaching client reads it to
// find the run, then revalidates against live orchestrator status; a stale
// file from a dead process is detected through the accompanying lock.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cantina-dev/cantina/internal/errors"
)

const (
	stateFileName = "run-state.json"
	lockFileName  = "run.lock"
)

// State is the durable snapshot of the active run.
type State struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes run state under a runtime directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the current run state atomically.
func (s *Store) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, stateFileName), data)
}

// Load reads the persisted run state. Returns ErrRunNotFound when no run
// state exists.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	if state.RunID == "" {
		return nil, fmt.Errorf("run state missing run id")
	}
	return &state, nil
}

// Clear removes the persisted run state. Missing state is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, stateFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear run state: %w", err)
	}
	return nil
}

// atomicWrite writes via a temp file and rename so the state file is never
// half-written.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	ok = true
	return nil
}
