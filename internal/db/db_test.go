package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "events", "fixloop.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDB_LoopEventsNewestFirst(t *testing.T) {
	d := openTestDB(t)

	for i := 1; i <= 3; i++ {
		if err := d.LogLoopEvent(i, "iteration", "ok"); err != nil {
			t.Fatalf("LogLoopEvent: %v", err)
		}
	}

	events, err := d.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Iteration != 3 || events[1].Iteration != 2 {
		t.Errorf("order = [%d, %d], want newest first", events[0].Iteration, events[1].Iteration)
	}
	if events[0].Timestamp == "" {
		t.Error("expected timestamp filled by the schema default")
	}
}

func TestDB_ComponentSuccessRates(t *testing.T) {
	d := openTestDB(t)

	attempts := []struct {
		component string
		outcome   history.Outcome
	}{
		{"save-system", history.OutcomeFixed},
		{"save-system", history.OutcomeFailed},
		{"save-system", history.OutcomeSkipped}, // excluded from the rate
		{"combat", history.OutcomeFixed},
	}
	for i, a := range attempts {
		err := d.LogFixAttempt(history.FixAttempt{
			Iteration: 1,
			IssueKey:  "k" + a.component,
			Component: a.component,
			Kind:      "runtime",
			Outcome:   a.outcome,
			Duration:  50 * time.Millisecond,
		}, float64(100+i))
		if err != nil {
			t.Fatalf("LogFixAttempt: %v", err)
		}
	}

	rates, err := d.ComponentSuccessRates()
	if err != nil {
		t.Fatalf("ComponentSuccessRates: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("got %d components, want 2", len(rates))
	}

	byName := make(map[string]ComponentRate, len(rates))
	for _, r := range rates {
		byName[r.Component] = r
	}
	if r := byName["save-system"]; r.Attempts != 2 || r.Fixed != 1 || r.Rate != 0.5 {
		t.Errorf("save-system = %+v", r)
	}
	if r := byName["combat"]; r.Attempts != 1 || r.Rate != 1.0 {
		t.Errorf("combat = %+v", r)
	}
}

func TestDB_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixloop.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.LogLoopEvent(1, "detect", "5 issues"); err != nil {
		t.Fatalf("LogLoopEvent: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	events, err := d.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].Event != "detect" {
		t.Errorf("events = %+v", events)
	}
}
