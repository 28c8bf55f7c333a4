package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
)

func testState(iteration int) (LoopState, Histories) {
	ls := LoopState{
		Iteration: iteration,
		Status:    StatusRunning,
		StartTime: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	h := Histories{
		ErrorHistory: []history.ErrorSample{{Iteration: iteration, ErrorCount: 10 - iteration}},
	}
	return ls, h
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls, h := testState(2)
	if err := store.Save(ls, h); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LoopState.Iteration != 2 || got.LoopState.Status != StatusRunning {
		t.Errorf("loop state = %+v", got.LoopState)
	}
	if len(got.History.ErrorHistory) != 1 || got.History.ErrorHistory[0].ErrorCount != 8 {
		t.Errorf("history = %+v", got.History)
	}
	if got.Metadata.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", got.Metadata.Version, CurrentVersion)
	}
}

func TestStore_LoadMissingReturnsErrNoState(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestStore_CrashMidWriteLeavesPreviousStateLoadable(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls, h := testState(1)
	if err := store.Save(ls, h); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A crash mid-write leaves a torn temp file next to the state file.
	if err := os.WriteFile(filepath.Join(dir, ".tmp-crash"), []byte(`{"loopState":{"iter`), 0o644); err != nil {
		t.Fatalf("write torn temp: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LoopState.Iteration != 1 {
		t.Errorf("iteration = %d, want previous state 1", got.LoopState.Iteration)
	}
}

func TestStore_CorruptStateFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls1, h1 := testState(1)
	if err := store.Save(ls1, h1); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // distinct backup timestamps
	ls2, h2 := testState(2)
	if err := store.Save(ls2, h2); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	// Corrupt the main file after the atomic write completed.
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("corrupt state: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LoopState.Iteration != 1 {
		t.Errorf("iteration = %d, want backup state 1", got.LoopState.Iteration)
	}
}

func TestStore_TamperedPayloadDetected(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls, h := testState(3)
	if err := store.Save(ls, h); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Flip a payload field without recomputing the integrity hash.
	path := filepath.Join(dir, "state.json")
	var record SavedState
	if err := ReadJSON(path, &record); err != nil {
		t.Fatalf("read: %v", err)
	}
	record.LoopState.FixedErrors = 999
	data, _ := json.Marshal(record)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write tampered: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrCorruptState) {
		t.Errorf("expected ErrCorruptState with no backups, got %v", err)
	}
}

func TestStore_MigratesOldVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls, h := testState(4)
	integrity, err := Integrity(ls, h)
	if err != nil {
		t.Fatalf("Integrity: %v", err)
	}
	record := SavedState{
		Metadata:  Metadata{Version: 1, Timestamp: time.Now().UTC(), Integrity: integrity},
		LoopState: ls,
		History:   h,
	}
	if err := WriteJSON(filepath.Join(dir, "state.json"), &record); err != nil {
		t.Fatalf("write v1 record: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Metadata.Version != CurrentVersion || !got.Metadata.Migrated {
		t.Errorf("metadata = %+v, want migrated current version", got.Metadata)
	}
}

func TestStore_FutureVersionRejected(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ls, h := testState(1)
	integrity, _ := Integrity(ls, h)
	record := SavedState{
		Metadata:  Metadata{Version: CurrentVersion + 1, Integrity: integrity},
		LoopState: ls,
		History:   h,
	}
	if err := WriteJSON(filepath.Join(dir, "state.json"), &record); err != nil {
		t.Fatalf("write future record: %v", err)
	}

	if _, err := store.Load(); err == nil {
		t.Error("expected error for future-version state")
	}
}

func TestStore_PrunesBackupsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for i := 1; i <= 5; i++ {
		ls, h := testState(i)
		if err := store.Save(ls, h); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	backups, err := store.listBackups()
	if err != nil {
		t.Fatalf("listBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups after pruning, got %d", len(backups))
	}

	// Newest backup holds the state from the save before last.
	record, err := store.loadFile(backups[len(backups)-1])
	if err != nil {
		t.Fatalf("load newest backup: %v", err)
	}
	if record.LoopState.Iteration != 4 {
		t.Errorf("newest backup iteration = %d, want 4", record.LoopState.Iteration)
	}
}

func TestWriteAtomic_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteAtomic(path, []byte("{not json")); err == nil {
		t.Fatal("expected verification error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid write must not create the target file")
	}
}
