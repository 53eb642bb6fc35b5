// Package tracker is the work-item store behind a run: the source tasks a
// run executes, and the completion bookkeeping the finalizer performs.
//
// Items live in a JSON file next to the repository. A plain-text task file
// (one task per line, # comments) can be imported as the initial item set.
package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cantina-dev/cantina/internal/plan"
)

// Item is one tracked work item.
type Item struct {
	// ID is the item's stable identity within the store.
	ID string `json:"id"`

	// Text is the task description.
	Text string `json:"text"`

	// Done reports whether a run completed this item.
	Done bool `json:"done"`

	// CompletedAt is set when the item is marked complete.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RunID records which run completed the item.
	RunID string `json:"run_id,omitempty"`
}

// Store reads and writes the items file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store over the given items file. The file is created
// lazily on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns all items. A missing file is an empty store.
func (s *Store) Load() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Pending returns the items no run has completed yet.
func (s *Store) Pending() ([]Item, error) {
	items, err := s.Load()
	if err != nil {
		return nil, err
	}

	var pending []Item
	for _, item := range items {
		if !item.Done {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// Put replaces the store's contents.
func (s *Store) Put(items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(items)
}

// MarkComplete marks the given items done, stamping the completing run.
// Unknown ids are skipped: the finalizer is best-effort and an item deleted
// mid-run must not fail the whole step.
func (s *Store) MarkComplete(ids []string, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLocked()
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	now := time.Now()
	changed := false
	for i := range items {
		if want[items[i].ID] && !items[i].Done {
			items[i].Done = true
			items[i].CompletedAt = &now
			items[i].RunID = runID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked(items)
}

// TaskRefs converts items to the planner's task representation, in order.
func TaskRefs(items []Item) []plan.TaskRef {
	refs := make([]plan.TaskRef, len(items))
	for i, item := range items {
		refs[i] = plan.TaskRef{Text: item.Text}
	}
	return refs
}

func (s *Store) loadLocked() ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse items file: %w", err)
	}
	return items, nil
}

func (s *Store) saveLocked(items []Item) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create items directory: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write items file: %w", err)
	}
	return nil
}

// ImportTaskFile reads a plain-text task file, one task per line. Blank
// lines and # comments are skipped; leading list markers are stripped.
func ImportTaskFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "- [ ]"), "-"))
		if line == "" {
			continue
		}
		items = append(items, Item{
			ID:   fmt.Sprintf("item-%d", len(items)),
			Text: line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return items, nil
}
