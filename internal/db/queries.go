package db

import (
	"fmt"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
)

// LoopEvent represents a row in the loop_events table.
type LoopEvent struct {
	ID        int
	Iteration int
	Event     string
	Detail    string
	Timestamp string
}

// FixAttemptRow represents a row in the fix_attempts table.
type FixAttemptRow struct {
	ID         int
	Iteration  int
	IssueKey   string
	Component  string
	Kind       string
	Outcome    string
	Reason     string
	Applied    bool
	Score      float64
	DurationMs int
	Timestamp  string
}

// LogLoopEvent inserts a loop event.
func (d *DB) LogLoopEvent(iteration int, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO loop_events (iteration, event, detail) VALUES (?, ?, ?)`,
		iteration, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log loop event: %w", err)
	}
	return nil
}

// LogFixAttempt inserts a fix attempt record.
func (d *DB) LogFixAttempt(a history.FixAttempt, score float64) error {
	_, err := d.conn.Exec(
		`INSERT INTO fix_attempts (iteration, issue_key, component, kind, outcome, reason, applied, score, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Iteration, a.IssueKey, a.Component, string(a.Kind), string(a.Outcome),
		a.FailureReason, a.Applied, score, a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("log fix attempt: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit of the newest loop events, newest first.
func (d *DB) RecentEvents(limit int) ([]LoopEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, iteration, event, COALESCE(detail, ''), timestamp
		 FROM loop_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var events []LoopEvent
	for rows.Next() {
		var e LoopEvent
		if err := rows.Scan(&e.ID, &e.Iteration, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan loop event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ComponentRate holds per-component fix attempt stats.
type ComponentRate struct {
	Component string  `json:"component"`
	Attempts  int     `json:"attempts"`
	Fixed     int     `json:"fixed"`
	Rate      float64 `json:"rate"`
}

// ComponentSuccessRates returns attempt and success counts per component,
// skipped attempts excluded.
func (d *DB) ComponentSuccessRates() ([]ComponentRate, error) {
	rows, err := d.conn.Query(
		`SELECT component,
		        COUNT(*) AS attempts,
		        SUM(CASE WHEN outcome = 'fixed' THEN 1 ELSE 0 END) AS fixed
		 FROM fix_attempts
		 WHERE outcome != 'skipped'
		 GROUP BY component ORDER BY component`,
	)
	if err != nil {
		return nil, fmt.Errorf("query component rates: %w", err)
	}
	defer rows.Close()

	var out []ComponentRate
	for rows.Next() {
		var r ComponentRate
		if err := rows.Scan(&r.Component, &r.Attempts, &r.Fixed); err != nil {
			return nil, fmt.Errorf("scan component rate: %w", err)
		}
		if r.Attempts > 0 {
			r.Rate = float64(r.Fixed) / float64(r.Attempts)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
