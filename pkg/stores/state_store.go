package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/fsutil"
)

// StateFileName is the name of the last-run record inside the state directory.
const StateFileName = "last_run.json"

// FileStateStore keeps the last-run record as a single JSON document that is
// replaced atomically, so readers see either the old or the new record.
type FileStateStore struct {
	path string
}

// NewFileStateStore returns a store writing to path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the state file location.
func (s *FileStateStore) Path() string {
	return s.path
}

// Write persists outcome as the new last-run record.
func (s *FileStateStore) Write(_ context.Context, outcome engine.WorkflowOutcome) error {
	rec := NewStateRecord(outcome)
	if err := rec.Status.Validate(); err != nil {
		return fmt.Errorf("refusing to persist state: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Read loads the last-run record. It returns ErrStateNotFound when none exists.
func (s *FileStateStore) Read(_ context.Context) (StateRecord, error) {
	var rec StateRecord

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return rec, ErrStateNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read state: %w", err)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse state %s: %w", s.path, err)
	}
	return rec, nil
}
