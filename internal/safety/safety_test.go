package safety

import (
	"strings"
	"testing"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

func testConfig() Config {
	return Config{
		MaxIterations:                 10,
		MaxWallClock:                  time.Hour,
		MaxConsecutiveFailures:        3,
		MaxRetriesPerIssue:            2,
		RegressionRateThreshold:       0.5,
		ComponentFailureWindow:        3,
		ComponentFailureRateThreshold: 0.6,
		MaxFilesPerIteration:          5,
		StabilityWindow:               5,
		MinConfidence:                 60,
		CriticalFiles:                 []string{"save.js"},
		CriticalFileConfidence:        85,
		DenyPatterns:                  []string{`localStorage\.clear\(\)`, `while\s*\(\s*true\s*\)`},
	}
}

func TestGuard_IterationCapIsMonotonic(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	h := history.NewErrorHistory(0)

	if d := g.ShouldStopLoop(9, h); d.Stop {
		t.Errorf("unexpected stop below cap: %+v", d)
	}
	first := g.ShouldStopLoop(10, h)
	if !first.Stop {
		t.Fatal("expected stop at iteration cap")
	}
	// A larger iteration with identical history must also stop.
	for _, iter := range []int{11, 50, 1000} {
		if d := g.ShouldStopLoop(iter, h); !d.Stop {
			t.Errorf("iteration %d: expected stop to stay latched", iter)
		}
	}
}

func TestGuard_ConsecutiveFailuresStop(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	h := history.NewErrorHistory(0)

	g.RecordOutcome("a", history.OutcomeFailed)
	g.RecordOutcome("b", history.OutcomeFailed)
	if d := g.ShouldStopLoop(1, h); d.Stop {
		t.Errorf("unexpected stop at 2 failures: %+v", d)
	}

	g.RecordOutcome("c", history.OutcomeFailed)
	d := g.ShouldStopLoop(1, h)
	if !d.Stop || d.Severity != "critical" {
		t.Errorf("expected critical stop at 3 consecutive failures, got %+v", d)
	}
}

func TestGuard_SuccessResetsConsecutiveFailures(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	h := history.NewErrorHistory(0)

	g.RecordOutcome("a", history.OutcomeFailed)
	g.RecordOutcome("b", history.OutcomeFailed)
	g.RecordOutcome("c", history.OutcomeFixed)
	g.RecordOutcome("d", history.OutcomeFailed)
	g.RecordOutcome("e", history.OutcomeFailed)

	if d := g.ShouldStopLoop(1, h); d.Stop {
		t.Errorf("unexpected stop after reset: %+v", d)
	}
}

func TestGuard_WallClockBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWallClock = time.Minute
	g := NewGuard(cfg, nil)
	g.SetStartTime(time.Now().Add(-2 * time.Minute))

	d := g.ShouldStopLoop(1, history.NewErrorHistory(0))
	if !d.Stop || !strings.Contains(d.Reason, "wall clock") {
		t.Errorf("expected wall clock stop, got %+v", d)
	}
}

func TestGuard_EmergencyStopLatches(t *testing.T) {
	g := NewGuard(testConfig(), nil)

	g.EmergencyStop("stop marker present")
	g.EmergencyStop("second reason ignored")

	stopped, reason := g.Stopped()
	if !stopped || reason != "stop marker present" {
		t.Errorf("stopped = %v, reason = %q", stopped, reason)
	}
	if d := g.ShouldStopLoop(0, history.NewErrorHistory(0)); !d.Stop || d.Severity != "critical" {
		t.Errorf("expected critical stop, got %+v", d)
	}
}

func TestGuard_RisingErrorTrendStops(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	h := history.NewErrorHistory(0)
	for i, c := range []int{2, 4, 6, 8, 10} {
		h.Record(i+1, c)
	}

	d := g.ShouldStopLoop(5, h)
	if !d.Stop || !strings.Contains(d.Reason, "rising") {
		t.Errorf("expected rising-trend stop, got %+v", d)
	}
}

func TestGuard_RetryExhaustionSkips(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "ui", "button dead")

	if reason := g.ShouldSkipIssue(is, nil); reason != "" {
		t.Errorf("unexpected skip before retries: %q", reason)
	}

	g.RecordOutcome(is.Key, history.OutcomeFailed)
	g.RecordOutcome(is.Key, history.OutcomeFailed)

	reason := g.ShouldSkipIssue(is, nil)
	if !strings.Contains(reason, "retry budget") {
		t.Errorf("expected retry budget skip, got %q", reason)
	}
}

func TestGuard_RegressionRateSkips(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "combat", "damage wrong")

	fh := history.NewFixHistory(0)
	fh.Record(history.FixAttempt{IssueKey: is.Key, Outcome: history.OutcomeFailed, Regression: true})
	fh.Record(history.FixAttempt{IssueKey: is.Key, Outcome: history.OutcomeFailed, Regression: true})
	fh.Record(history.FixAttempt{IssueKey: is.Key, Outcome: history.OutcomeFixed})

	reason := g.ShouldSkipIssue(is, fh)
	if !strings.Contains(reason, "regression rate") {
		t.Errorf("expected regression rate skip, got %q", reason)
	}
}

func TestGuard_ComponentLosingStreakSkips(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "combat", "new defect")

	fh := history.NewFixHistory(0)
	for i := 0; i < 3; i++ {
		fh.Record(history.FixAttempt{IssueKey: "other", Component: "combat", Outcome: history.OutcomeFailed})
	}

	reason := g.ShouldSkipIssue(is, fh)
	if !strings.Contains(reason, "component") {
		t.Errorf("expected component streak skip, got %q", reason)
	}
}

func TestGuard_BlocksLowConfidence(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	fix := &issue.CandidateFix{
		TargetFile: "js/ui.js",
		Confidence: 40,
		Payload:    issue.ContentReplace{Search: "a", Replace: "b"},
	}

	d := g.ShouldBlockFix(fix)
	if !d.Block || !strings.Contains(d.Reason, "confidence") {
		t.Errorf("expected confidence block, got %+v", d)
	}
}

func TestGuard_CriticalFileNeedsHigherConfidence(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	fix := &issue.CandidateFix{
		TargetFile: "js/save.js",
		Confidence: 70, // above the floor, below the critical-file floor
		Payload:    issue.ContentReplace{Search: "a", Replace: "b"},
	}

	d := g.ShouldBlockFix(fix)
	if !d.Block || !strings.Contains(d.Reason, "critical-file") {
		t.Errorf("expected critical-file block, got %+v", d)
	}

	fix.Confidence = 90
	if d := g.ShouldBlockFix(fix); d.Block {
		t.Errorf("unexpected block at confidence 90: %+v", d)
	}
}

func TestGuard_DenyPatternBlocksPayload(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	fix := &issue.CandidateFix{
		TargetFile: "js/ui.js",
		Confidence: 95,
		Payload:    issue.FullReplace{Content: "function reset() { localStorage.clear() }"},
	}

	d := g.ShouldBlockFix(fix)
	if !d.Block || !strings.Contains(d.Reason, "deny pattern") {
		t.Errorf("expected deny pattern block, got %+v", d)
	}
}

func TestGuard_FileChangeCap(t *testing.T) {
	g := NewGuard(testConfig(), nil)
	fix := &issue.CandidateFix{
		TargetFile: "js/ui.js",
		Confidence: 95,
		Payload:    issue.ContentReplace{Search: "a", Replace: "b"},
	}

	for i := 0; i < 5; i++ {
		g.RecordFileChange()
	}
	d := g.ShouldBlockFix(fix)
	if !d.Block || !strings.Contains(d.Reason, "file-change cap") {
		t.Errorf("expected file cap block, got %+v", d)
	}

	g.BeginIteration()
	if d := g.ShouldBlockFix(fix); d.Block {
		t.Errorf("unexpected block after iteration reset: %+v", d)
	}
}
