// Package state persists loop progress crash-safely: atomic writes,
// integrity hashes, timestamped backups, and schema migration on load.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
)

// CurrentVersion is the schema version written by this build. Older
// versions load fine and are upgraded in place on the next save.
const CurrentVersion = 2

// Status is the loop lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// LoopState is the single mutable record of loop progress. Exactly one
// exists per run; it is the sole source of truth for "should we continue".
type LoopState struct {
	Iteration int        `json:"iteration"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// TotalErrors is the issue count from the most recent detection
	// pass, not a running total; the fix counters below are cumulative
	// across the whole run.
	TotalErrors  int `json:"totalErrors"`
	FixedErrors  int `json:"fixedErrors"`
	FailedFixes  int `json:"failedFixes"`
	SkippedFixes int `json:"skippedFixes"`
}

// Metadata describes a saved record: version, write time, and an integrity
// hash over the payload.
type Metadata struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Integrity string    `json:"integrity"`
	Migrated  bool      `json:"migrated,omitempty"`
}

// Histories are the serialized bounded history logs.
type Histories struct {
	ErrorHistory []history.ErrorSample `json:"errorHistory"`
	FixHistory   []history.FixAttempt  `json:"fixHistory"`
}

// SavedState is the on-disk record.
type SavedState struct {
	Metadata  Metadata  `json:"metadata"`
	LoopState LoopState `json:"loopState"`
	History   Histories `json:"history"`
}

// payload is the integrity-covered portion of a saved record.
type payload struct {
	LoopState LoopState `json:"loopState"`
	History   Histories `json:"history"`
}

// Integrity computes the content hash over the record's payload.
func Integrity(ls LoopState, h Histories) (string, error) {
	data, err := json.Marshal(payload{LoopState: ls, History: h})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verifyIntegrity recomputes the payload hash and compares it with the one
// recorded in metadata.
func (s *SavedState) verifyIntegrity() bool {
	want, err := Integrity(s.LoopState, s.History)
	if err != nil {
		return false
	}
	return s.Metadata.Integrity == want
}
