package history

import (
	"testing"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

func TestRing_EvictsOldestAtCapacity(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	got := r.Items()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRing_Last(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 4; i++ {
		r.Push(i)
	}

	got := r.Last(2)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("Last(2) = %v, want [3 4]", got)
	}
	if got := r.Last(10); len(got) != 4 {
		t.Errorf("Last(10) returned %d items, want 4", len(got))
	}
}

func TestErrorHistory_DerivesImprovement(t *testing.T) {
	h := NewErrorHistory(0)
	h.Record(1, 10)
	s := h.Record(2, 6)

	if s.Improvement != 4 {
		t.Errorf("improvement = %d, want 4", s.Improvement)
	}
	if s.ImprovementRate != 0.4 {
		t.Errorf("improvement rate = %f, want 0.4", s.ImprovementRate)
	}

	// A regression shows up as negative improvement.
	s = h.Record(3, 9)
	if s.Improvement != -3 {
		t.Errorf("improvement = %d, want -3", s.Improvement)
	}
}

func TestErrorHistory_FirstSampleHasNoImprovement(t *testing.T) {
	h := NewErrorHistory(0)
	s := h.Record(1, 10)
	if s.Improvement != 0 || s.ImprovementRate != 0 {
		t.Errorf("first sample should carry no improvement, got %+v", s)
	}
}

func TestRestoreErrorHistory_RoundTrip(t *testing.T) {
	h := NewErrorHistory(0)
	h.Record(1, 10)
	h.Record(2, 4)

	restored := RestoreErrorHistory(0, h.Samples())
	if restored.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", restored.Len())
	}
	latest, _ := restored.Latest()
	if latest.ErrorCount != 4 || latest.Improvement != 6 {
		t.Errorf("latest = %+v, want count 4 improvement 6", latest)
	}
}

func TestFixHistory_RegressionRate(t *testing.T) {
	h := NewFixHistory(0)
	h.Record(FixAttempt{IssueKey: "k1", Outcome: OutcomeFailed, Regression: true})
	h.Record(FixAttempt{IssueKey: "k1", Outcome: OutcomeFixed})
	h.Record(FixAttempt{IssueKey: "k1", Outcome: OutcomeFailed, Regression: true})
	h.Record(FixAttempt{IssueKey: "k1", Outcome: OutcomeFailed})
	h.Record(FixAttempt{IssueKey: "other", Outcome: OutcomeFailed, Regression: true})

	if got := h.RegressionRate("k1"); got != 0.5 {
		t.Errorf("regression rate = %f, want 0.5", got)
	}
	if got := h.RegressionRate("unknown"); got != 0 {
		t.Errorf("regression rate for unknown key = %f, want 0", got)
	}
}

func TestFixHistory_ComponentRecent(t *testing.T) {
	h := NewFixHistory(0)
	for i := 0; i < 4; i++ {
		h.Record(FixAttempt{IssueKey: "a", Component: "save-system", Iteration: i, Outcome: OutcomeFailed})
	}
	h.Record(FixAttempt{IssueKey: "b", Component: "ui", Outcome: OutcomeFixed})

	recent := h.ComponentRecent("save-system", 3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(recent))
	}
	if recent[2].Iteration != 3 {
		t.Errorf("expected newest attempt last, got iteration %d", recent[2].Iteration)
	}
}

func TestFixHistory_ForKey(t *testing.T) {
	h := NewFixHistory(0)
	h.Record(FixAttempt{IssueKey: "a", Kind: issue.KindRuntime, Outcome: OutcomeFixed})
	h.Record(FixAttempt{IssueKey: "b", Outcome: OutcomeFailed})
	h.Record(FixAttempt{IssueKey: "a", Outcome: OutcomeFailed})

	got := h.ForKey("a")
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts for key a, got %d", len(got))
	}
	if got[0].Outcome != OutcomeFixed || got[1].Outcome != OutcomeFailed {
		t.Errorf("attempts out of order: %+v", got)
	}
}
