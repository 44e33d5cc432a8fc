package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// File names inside the run directory.
const (
	StateFile = "state.yaml"
	LockFile  = ".lock"
)

const stateVersion = 1

// stateDocument is the on-disk form of state.yaml.
type stateDocument struct {
	Version   int                         `yaml:"version"`
	UpdatedAt time.Time                   `yaml:"updated_at,omitempty"`
	Steps     map[string]engine.StepState `yaml:"steps"`
}

// FileStore persists step states as a YAML document in the run directory.
// Every write replaces the whole document atomically: the new content is
// written to a temporary file, synced, and renamed over the previous one.
type FileStore struct {
	dir string

	mu       sync.Mutex
	snapshot map[string]engine.StepState
	loaded   bool
	lockFile *os.File
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write or lock.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the run directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) statePath() string {
	return filepath.Join(s.dir, StateFile)
}

// Load reads state.yaml. A missing or empty file yields an empty map.
func (s *FileStore) Load(_ context.Context) (map[string]engine.StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}

	out := make(map[string]engine.StepState, len(s.snapshot))
	for id, st := range s.snapshot {
		out[id] = st
	}
	return out, nil
}

func (s *FileStore) load() error {
	s.snapshot = map[string]engine.StepState{}
	s.loaded = true

	data, err := os.ReadFile(s.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.statePath(), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc stateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return corruptState(s.statePath(), err)
	}
	for id, st := range doc.Steps {
		if err := st.Status.Validate(); err != nil {
			return corruptState(s.statePath(), fmt.Errorf("step %s: %w", id, err))
		}
		st.StepID = id
		s.snapshot[id] = st
	}
	return nil
}

func corruptState(path string, err error) error {
	return engine.NewConfigurationError(fmt.Sprintf("state file %s is malformed", path), err).
		WithCode(engine.CodeStateCorrupt).
		WithRemediation("Fix or remove the state file, or run 'gwsetup reset' to start over")
}

// Save records one step and rewrites the document. It does not observe ctx
// cancellation so that the final state of a cancelled run is still written.
func (s *FileStore) Save(_ context.Context, stepID string, state engine.StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(); err != nil {
			return err
		}
	}

	state.StepID = stepID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	prev, had := s.snapshot[stepID]
	s.snapshot[stepID] = state
	if err := s.write(); err != nil {
		if had {
			s.snapshot[stepID] = prev
		} else {
			delete(s.snapshot, stepID)
		}
		return err
	}
	return nil
}

// Reset replaces the document with an empty one.
func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot
	s.snapshot = map[string]engine.StepState{}
	s.loaded = true
	if err := s.write(); err != nil {
		s.snapshot = prev
		return err
	}
	return nil
}

func (s *FileStore) write() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := yaml.Marshal(stateDocument{
		Version:   stateVersion,
		UpdatedAt: time.Now().UTC(),
		Steps:     s.snapshot,
	})
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmpPath := s.statePath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.statePath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Lock takes an exclusive, non-blocking flock on the run directory's lock
// file. It fails with engine.ErrSetupInProgress when another process (or
// another FileStore) holds it. The lock is released by Unlock or when the
// process exits.
func (s *FileStore) Lock(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockFile != nil {
		return setupInProgress(s.dir)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	lockPath := filepath.Join(s.dir, LockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return setupInProgress(s.dir)
		}
		return fmt.Errorf("failed to acquire lock on %s: %w", lockPath, err)
	}

	s.lockFile = f
	return nil
}

func setupInProgress(dir string) error {
	return &engine.EngineError{
		Category:    engine.CategoryConfiguration,
		Code:        engine.CodeSetupInProgress,
		Message:     "setup already in progress",
		Remediation: fmt.Sprintf("Wait for the other gwsetup process using %s to finish", dir),
		Details:     map[string]interface{}{"run_dir": dir},
	}
}

// Unlock releases the lock. It is a no-op when the lock is not held.
func (s *FileStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockFile == nil {
		return nil
	}
	f := s.lockFile
	s.lockFile = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return f.Close()
}
