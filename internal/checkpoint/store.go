// Package checkpoint persists run state as JSON files on disk. Each run
// gets one file named after its run ID; writes are atomic (temp file plus
// rename) and guarded by a cross-process file lock, so a reader never
// observes a torn checkpoint and a crash mid-write leaves the previous
// checkpoint intact.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// Store reads and writes checkpoints under a single directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the checkpoint file path for a run ID.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes state as the checkpoint for runID. The write is atomic:
// data is written to a temporary file first, then renamed into place. A
// file lock is held during the operation for cross-process safety.
func (s *Store) Save(runID string, state any) error {
	fl := NewFileLock(s.dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := s.Path(runID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Load reads the checkpoint for runID into out. Returns ErrRunNotFound
// when no checkpoint exists and ErrCheckpointCorrupted when the file is
// present but not valid JSON.
func (s *Store) Load(runID string, out any) error {
	fl := NewFileLock(s.dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(s.Path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %q: %w", runID, errors.ErrRunNotFound)
		}
		return fmt.Errorf("read checkpoint: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("run %q: %w: %v", runID, errors.ErrCheckpointCorrupted, err)
	}
	return nil
}

// Remove deletes the checkpoint for runID. Removing a checkpoint that
// does not exist is not an error.
func (s *Store) Remove(runID string) error {
	err := os.Remove(s.Path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// List returns the run IDs with a checkpoint on disk, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest returns the run ID of the most recently written checkpoint, or
// ErrRunNotFound when the store is empty.
func (s *Store) Latest() (string, error) {
	ids, err := s.List()
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod int64
	for _, id := range ids {
		info, err := os.Stat(s.Path(id))
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = id
			latestMod = mod
		}
	}
	if latest == "" {
		return "", errors.ErrRunNotFound
	}
	return latest, nil
}
