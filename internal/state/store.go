package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrNoState means no state file exists yet (fresh run, nothing to resume).
var ErrNoState = errors.New("no saved loop state")

// ErrCorruptState means the state file and every backup failed verification.
var ErrCorruptState = errors.New("loop state corrupted and no valid backup")

const (
	stateFileName = "state.json"
	backupDirName = "backups"
	backupTimeFmt = "20060102T150405.000"
)

// Store persists loop state under a directory:
//
//	<dir>/state.json
//	<dir>/backups/state-<timestamp>.json
type Store struct {
	dir        string
	maxBackups int
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, maxBackups int) (*Store, error) {
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if err := os.MkdirAll(filepath.Join(dir, backupDirName), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, maxBackups: maxBackups}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath() string { return filepath.Join(s.dir, stateFileName) }

// Save writes the record atomically, backing up the previous state file
// first. The write path is: backup existing → marshal with integrity hash →
// temp file → parse-verify → rename.
func (s *Store) Save(ls LoopState, h Histories) error {
	if err := s.backupExisting(); err != nil {
		return fmt.Errorf("backup state: %w", err)
	}

	integrity, err := Integrity(ls, h)
	if err != nil {
		return fmt.Errorf("hash state: %w", err)
	}

	record := SavedState{
		Metadata: Metadata{
			Version:   CurrentVersion,
			Timestamp: time.Now().UTC(),
			Integrity: integrity,
		},
		LoopState: ls,
		History:   h,
	}

	if err := WriteJSON(s.statePath(), &record); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads the newest valid state record. A corrupted main file falls
// back to the newest valid backup; only when everything is invalid does it
// return ErrCorruptState.
func (s *Store) Load() (*SavedState, error) {
	record, err := s.loadFile(s.statePath())
	if err == nil {
		return record, nil
	}
	if os.IsNotExist(errors.Unwrap(err)) || os.IsNotExist(err) {
		// No main file: a crash between backup and rename can leave only
		// backups behind, so still check those before giving up.
		if record, berr := s.loadNewestBackup(); berr == nil {
			return record, nil
		}
		return nil, ErrNoState
	}

	record, berr := s.loadNewestBackup()
	if berr != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return record, nil
}

// VerifyReport summarizes integrity checks over the state file and backups.
type VerifyReport struct {
	StateValid   bool     `json:"state_valid"`
	StateError   string   `json:"state_error,omitempty"`
	ValidBackups int      `json:"valid_backups"`
	TotalBackups int      `json:"total_backups"`
	Problems     []string `json:"problems,omitempty"`
}

// Verify checks the state file and all backups without modifying anything.
func (s *Store) Verify() (*VerifyReport, error) {
	report := &VerifyReport{}

	if _, err := s.loadFile(s.statePath()); err != nil {
		report.StateError = err.Error()
	} else {
		report.StateValid = true
	}

	backups, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	report.TotalBackups = len(backups)
	for _, b := range backups {
		if _, err := s.loadFile(b); err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: %v", filepath.Base(b), err))
			continue
		}
		report.ValidBackups++
	}
	return report, nil
}

// loadFile reads and verifies one state record, migrating old versions.
func (s *Store) loadFile(path string) (*SavedState, error) {
	var record SavedState
	if err := ReadJSON(path, &record); err != nil {
		return nil, err
	}

	if record.Metadata.Version > CurrentVersion {
		return nil, fmt.Errorf("state version %d is newer than supported %d", record.Metadata.Version, CurrentVersion)
	}
	if record.Metadata.Version < CurrentVersion {
		migrate(&record)
	}

	if !record.verifyIntegrity() {
		return nil, fmt.Errorf("integrity mismatch in %s", filepath.Base(path))
	}
	return &record, nil
}

// migrate upgrades an old record in memory. Upgrades are silent apart from
// the Migrated flag; rejection is reserved for future-version records.
func migrate(record *SavedState) {
	// v1 predates the skippedFixes counter; the zero value is correct for
	// records that never tracked it.
	record.Metadata.Version = CurrentVersion
	record.Metadata.Migrated = true
}

// backupExisting copies the current state file into the backup directory
// with a timestamped name, then prunes old backups.
func (s *Store) backupExisting() error {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	name := fmt.Sprintf("state-%s.json", time.Now().UTC().Format(backupTimeFmt))
	if err := WriteAtomic(filepath.Join(s.dir, backupDirName, name), data); err != nil {
		return err
	}
	return s.pruneBackups()
}

// listBackups returns backup paths sorted oldest-first. The timestamp format
// is fixed-width, so lexical order is chronological order.
func (s *Store) listBackups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, backupDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, backupDirName, n)
	}
	return paths, nil
}

func (s *Store) pruneBackups() error {
	backups, err := s.listBackups()
	if err != nil {
		return err
	}
	for len(backups) > s.maxBackups {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("prune backup %s: %w", backups[0], err)
		}
		backups = backups[1:]
	}
	return nil
}

func (s *Store) loadNewestBackup() (*SavedState, error) {
	backups, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	for i := len(backups) - 1; i >= 0; i-- {
		if record, err := s.loadFile(backups[i]); err == nil {
			return record, nil
		}
	}
	return nil, errors.New("no valid backup")
}
