package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// RunState is the persisted lifecycle of one (runcard, run folder) pair.
type RunState struct {
	Runcard   string       `json:"runcard"`
	RunFolder string       `json:"runfolder"`
	State     State        `json:"state"`
	Session   string       `json:"session,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
	History   []Transition `json:"history,omitempty"`
}

// Identity matches jobstore.Record.Identity.
func (r RunState) Identity() string { return identity(r.Runcard, r.RunFolder) }

func identity(runcard, runFolder string) string { return runcard + "/" + runFolder }

// StateStore keeps one JSON file per run identity:
//
//	<root>/<runcard>__<runfolder>.json
type StateStore struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

func NewStateStore(root string) *StateStore {
	return &StateStore{root: strings.TrimSpace(root), now: func() time.Time { return time.Now().UTC() }}
}

func (s *StateStore) RootDir() string { return s.root }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._+-]`)

func (s *StateStore) path(runcard, runFolder string) string {
	name := unsafeChars.ReplaceAllString(runcard, "_") + "__" + unsafeChars.ReplaceAllString(runFolder, "_")
	return filepath.Join(s.root, name+".json")
}

// Load returns the stored state, or an Uninitialized state when none exists.
func (s *StateStore) Load(runcard, runFolder string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(runcard, runFolder)
}

func (s *StateStore) load(runcard, runFolder string) (*RunState, error) {
	if runcard == "" || runFolder == "" {
		return nil, fmt.Errorf("runcard and run folder are required")
	}
	b, err := os.ReadFile(s.path(runcard, runFolder))
	if errors.Is(err, os.ErrNotExist) {
		return &RunState{Runcard: runcard, RunFolder: runFolder, State: StateUninitialized}, nil
	}
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("state file for %s is empty", identity(runcard, runFolder))
	}
	var st RunState
	if err := json.Unmarshal([]byte(trimmed), &st); err != nil {
		return nil, fmt.Errorf("parse state for %s: %w", identity(runcard, runFolder), err)
	}
	return &st, nil
}

// Transition moves the identity to `to` if the lifecycle allows it. A
// self-transition on a staging state is recorded as a re-stage.
func (s *StateStore) Transition(runcard, runFolder string, to State, reason string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(runcard, runFolder)
	if err != nil {
		return nil, err
	}
	if !CanTransition(st.State, to) {
		return st, &TransitionError{Identity: st.Identity(), From: st.State, To: to}
	}
	return st, s.apply(st, to, reason)
}

// Force sets the state without consulting the transition table. It backs
// the explicit-override escape hatch and adoption of a remote warmup.
func (s *StateStore) Force(runcard, runFolder string, to State, reason string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(runcard, runFolder)
	if err != nil {
		return nil, err
	}
	return st, s.apply(st, to, reason)
}

// Reset discards the stored lifecycle so the identity starts over.
func (s *StateStore) Reset(runcard, runFolder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(runcard, runFolder))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *StateStore) apply(st *RunState, to State, reason string) error {
	now := s.now()
	if st.State == StateUninitialized || st.Session == "" {
		st.Session = uuid.NewString()
	}
	st.History = append(st.History, Transition{From: st.State, To: to, Reason: reason, At: now})
	st.State = to
	st.UpdatedAt = now
	return s.write(st)
}

func (s *StateStore) write(st *RunState) error {
	if s.root == "" {
		return fmt.Errorf("pipeline state root dir is empty")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.root, "state.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(st.Runcard, st.RunFolder)); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// List returns every stored state sorted by identity. Unreadable files are
// skipped.
func (s *StateStore) List() ([]RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	out := make([]RunState, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		var st RunState
		if json.Unmarshal(b, &st) != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out, nil
}
