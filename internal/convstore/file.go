package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps all conversation state in one JSON file with atomic
// write-replace semantics: every mutation rewrites a temp file and renames
// it over the old one, so a crash never leaves a torn file behind.
type FileStore struct {
	mu     sync.Mutex
	path   string
	states map[string]State
	now    func() time.Time
}

// NewFileStore opens (or creates) the store at path. Existing state is
// loaded so in-flight dialogs survive a restart.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		states: make(map[string]State),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading conversation state: %w", err)
	default:
		if err := json.Unmarshal(data, &s.states); err != nil {
			return nil, fmt.Errorf("parsing conversation state: %w", err)
		}
	}
	return s, nil
}

// WithClock overrides the store clock for tests.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

// Put stores a state, stamping UpdatedAt.
func (s *FileStore) Put(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.now()
	s.states[stateKey(st.UserID, st.FlowKind)] = st
	return s.persistLocked()
}

// Get returns the state for (userID, flowKind) if present.
func (s *FileStore) Get(_ context.Context, userID, flowKind string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey(userID, flowKind)]
	return st, ok, nil
}

// Delete removes the state if present.
func (s *FileStore) Delete(_ context.Context, userID, flowKind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[stateKey(userID, flowKind)]; !ok {
		return nil
	}
	delete(s.states, stateKey(userID, flowKind))
	return s.persistLocked()
}

// Take atomically reads and deletes the state.
func (s *FileStore) Take(_ context.Context, userID, flowKind string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(userID, flowKind)
	st, ok := s.states[key]
	if !ok {
		return State{}, false, nil
	}
	delete(s.states, key)
	if err := s.persistLocked(); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// SweepExpired drops entries whose UpdatedAt is older than ttl.
func (s *FileStore) SweepExpired(_ context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	removed := 0
	for key, st := range s.states {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.states, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persistLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversation state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing conversation state: %w", err)
	}
	return nil
}
