// Package state persists the taskId -> agent record map shared by every
// concurrent sailing process on the host.
//
// All writers go through Update, which serializes on an advisory lock held
// on a sibling .lock file and replaces the state file atomically
// (temp file, fsync, rename). Readers never observe partial content; a
// reader racing a writer retries once on parse failure before reporting
// corruption.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/escalate"
)

// Store is a handle on one state file. It is cheap to construct; every
// operation re-reads the file so short-lived CLI processes stay coherent.
type Store struct {
	path string
}

// NewStore returns a store backed by the given state file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) lockPath() string { return s.path + ".lock" }

// Load returns a point-in-time snapshot. A missing file yields an empty
// state. A parse failure is retried once (a writer may be mid-rename on
// filesystems without atomic visibility) before reporting ErrCorrupt.
func (s *Store) Load() (*State, error) {
	st, err := s.read()
	if err == nil || !isCorrupt(err) {
		return st, err
	}
	time.Sleep(50 * time.Millisecond)
	return s.read()
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", escalate.ErrCorrupt, s.path, err)
	}
	if st.Agents == nil {
		st.Agents = make(map[string]*AgentRecord)
	}
	return &st, nil
}

func isCorrupt(err error) bool {
	return errors.Is(err, escalate.ErrCorrupt)
}

// Update performs an atomic read-modify-write: under an exclusive advisory
// lock it re-reads the file, applies fn to the fresh state, and replaces the
// file by rename. Concurrent updaters serialize on the lock so no completed
// mutation is lost. A corrupt file refuses mutation.
func (s *Store) Update(fn func(*State) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", s.lockPath(), err)
	}
	defer func() { _ = fl.Unlock() }()

	st, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	st.Version = CurrentVersion
	return s.replace(st)
}

// replace writes st to a temp file in the same directory, fsyncs, and
// renames over the state file.
func (s *Store) replace(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	debug.LogKV("state", "state replaced", "path", s.path, "agents", len(st.Agents))
	return nil
}

// UpdateAgent mutates a single record under the atomic-update contract.
// The record is created when absent.
func (s *Store) UpdateAgent(taskID string, fn func(*AgentRecord) error) error {
	return s.Update(func(st *State) error {
		rec := st.Agents[taskID]
		if rec == nil {
			rec = &AgentRecord{TaskID: taskID}
			st.Agents[taskID] = rec
		}
		return fn(rec)
	})
}

// DeleteAgent removes a record; missing records are not an error.
func (s *Store) DeleteAgent(taskID string) error {
	return s.Update(func(st *State) error {
		delete(st.Agents, taskID)
		return nil
	})
}
