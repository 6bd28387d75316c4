package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"loom/internal/fileutil"
)

// ErrNoState is returned when no checkpoint file exists.
var ErrNoState = errors.New("no flow state found")

// Store persists the flow checkpoint as a single JSON file, written
// atomically so a crash mid-write never leaves a torn checkpoint behind.
type Store struct {
	path string
}

// NewStore returns a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Save writes the checkpoint atomically, stamping UpdatedAt first.
func (s *Store) Save(f *FlowState) error {
	if f == nil {
		return errors.New("save flow state: nil state")
	}
	f.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write flow state: %w", err)
	}
	return nil
}

// Load reads the checkpoint. A missing file returns ErrNoState.
func (s *Store) Load() (*FlowState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoState, s.path)
		}
		return nil, fmt.Errorf("read flow state: %w", err)
	}
	var f FlowState
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flow state %s: %w", s.path, err)
	}
	if f.Batches == nil {
		f.Batches = make(map[int]*BatchState)
	}
	return &f, nil
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Clear removes the checkpoint. Missing files are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear flow state: %w", err)
	}
	return nil
}
