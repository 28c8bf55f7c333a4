package history

import (
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// DefaultCapacity bounds how many records each history keeps in memory.
const DefaultCapacity = 100

// ErrorSample is one per-iteration error-count observation with its
// derived improvement fields.
type ErrorSample struct {
	Iteration       int       `json:"iteration"`
	ErrorCount      int       `json:"error_count"`
	Improvement     int       `json:"improvement"`
	ImprovementRate float64   `json:"improvement_rate"`
	Timestamp       time.Time `json:"timestamp"`
}

// ErrorHistory is an append-only, bounded log of error-count samples.
type ErrorHistory struct {
	ring *Ring[ErrorSample]
}

// NewErrorHistory creates an empty error history.
func NewErrorHistory(capacity int) *ErrorHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ErrorHistory{ring: NewRing[ErrorSample](capacity)}
}

// RestoreErrorHistory rebuilds a history from persisted samples, oldest-first.
func RestoreErrorHistory(capacity int, samples []ErrorSample) *ErrorHistory {
	h := NewErrorHistory(capacity)
	for _, s := range samples {
		h.ring.Push(s)
	}
	return h
}

// Record appends a sample for the given iteration, deriving improvement
// from the previous sample.
func (h *ErrorHistory) Record(iteration, errorCount int) ErrorSample {
	s := ErrorSample{
		Iteration:  iteration,
		ErrorCount: errorCount,
		Timestamp:  time.Now().UTC(),
	}
	if prev, ok := h.ring.Latest(); ok {
		s.Improvement = prev.ErrorCount - errorCount
		if prev.ErrorCount > 0 {
			s.ImprovementRate = float64(s.Improvement) / float64(prev.ErrorCount)
		}
	}
	h.ring.Push(s)
	return s
}

// Samples returns all samples oldest-first.
func (h *ErrorHistory) Samples() []ErrorSample { return h.ring.Items() }

// Last returns up to n of the newest samples, oldest-first.
func (h *ErrorHistory) Last(n int) []ErrorSample { return h.ring.Last(n) }

// Len returns the number of recorded samples.
func (h *ErrorHistory) Len() int { return h.ring.Len() }

// Latest returns the newest sample, if any.
func (h *ErrorHistory) Latest() (ErrorSample, bool) { return h.ring.Latest() }

// Outcome classifies what happened to one fix attempt.
type Outcome string

const (
	OutcomeFixed   Outcome = "fixed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// FixAttempt is one record of trying (or deciding not to try) a fix.
type FixAttempt struct {
	IssueKey       string               `json:"issue_key"`
	Component      string               `json:"component"`
	Kind           issue.Kind           `json:"kind"`
	Iteration      int                  `json:"iteration"`
	Outcome        Outcome              `json:"outcome"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	Regression     bool                 `json:"regression,omitempty"`
	Applied        bool                 `json:"applied,omitempty"`
	Recommendation issue.Recommendation `json:"recommendation,omitempty"`
	Duration       time.Duration        `json:"duration,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// FixHistory is an append-only, bounded log of fix attempts.
type FixHistory struct {
	ring *Ring[FixAttempt]
}

// NewFixHistory creates an empty fix history.
func NewFixHistory(capacity int) *FixHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FixHistory{ring: NewRing[FixAttempt](capacity)}
}

// RestoreFixHistory rebuilds a history from persisted attempts, oldest-first.
func RestoreFixHistory(capacity int, attempts []FixAttempt) *FixHistory {
	h := NewFixHistory(capacity)
	for _, a := range attempts {
		h.ring.Push(a)
	}
	return h
}

// Record appends an attempt, stamping it if unstamped.
func (h *FixHistory) Record(a FixAttempt) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	h.ring.Push(a)
}

// Attempts returns all attempts oldest-first.
func (h *FixHistory) Attempts() []FixAttempt { return h.ring.Items() }

// Len returns the number of recorded attempts.
func (h *FixHistory) Len() int { return h.ring.Len() }

// ForKey returns all attempts for one identity key, oldest-first.
func (h *FixHistory) ForKey(key string) []FixAttempt {
	var out []FixAttempt
	for _, a := range h.ring.Items() {
		if a.IssueKey == key {
			out = append(out, a)
		}
	}
	return out
}

// RegressionRate returns the fraction of attempts for key whose failure
// indicates a regression. Zero when the key has no attempts.
func (h *FixHistory) RegressionRate(key string) float64 {
	attempts := h.ForKey(key)
	if len(attempts) == 0 {
		return 0
	}
	regressions := 0
	for _, a := range attempts {
		if a.Regression {
			regressions++
		}
	}
	return float64(regressions) / float64(len(attempts))
}

// ComponentRecent returns up to n of the newest attempts for a component,
// oldest-first.
func (h *FixHistory) ComponentRecent(component string, n int) []FixAttempt {
	var all []FixAttempt
	for _, a := range h.ring.Items() {
		if a.Component == component {
			all = append(all, a)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
