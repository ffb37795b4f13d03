package timer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot is the durable map of active tasks by user, written with atomic
// write-replace like the conversation store. It exists so panel buttons and
// the active-task invariant survive a process restart without re-reading
// the sheets.
type Snapshot struct {
	mu    sync.Mutex
	path  string
	tasks map[string]TaskState // keyed by userID
}

// OpenSnapshot loads (or creates) the snapshot file.
func OpenSnapshot(path string) (*Snapshot, error) {
	s := &Snapshot{path: path, tasks: make(map[string]TaskState)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading task snapshot: %w", err)
	default:
		if err := json.Unmarshal(data, &s.tasks); err != nil {
			return nil, fmt.Errorf("parsing task snapshot: %w", err)
		}
	}
	return s, nil
}

// Get returns the user's tracked task, if any.
func (s *Snapshot) Get(userID string) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[userID]
	return t, ok
}

// All returns a copy of every tracked task.
func (s *Snapshot) All() []TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskState, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// Put stores the user's task and persists.
func (s *Snapshot) Put(t TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.UserID] = t
	return s.persistLocked()
}

// Remove drops the user's task and persists.
func (s *Snapshot) Remove(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, userID)
	return s.persistLocked()
}

func (s *Snapshot) persistLocked() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing task snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task snapshot: %w", err)
	}
	return nil
}
