package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/checkpoint"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/safety"
)

// seqChecker returns canned outcomes in order, repeating the last one.
type seqChecker struct {
	outs  []Outcome
	calls int
}

func (s *seqChecker) Check(ctx context.Context) (Outcome, error) {
	i := s.calls
	if i >= len(s.outs) {
		i = len(s.outs) - 1
	}
	s.calls++
	return s.outs[i], nil
}

func pass() *seqChecker { return &seqChecker{outs: []Outcome{{Passed: true}}} }
func fail() *seqChecker { return &seqChecker{outs: []Outcome{{Passed: false, Detail: "check failed"}}} }

func newTestPipeline(t *testing.T, checkers map[string]Checker) (*Pipeline, string) {
	t.Helper()
	target := t.TempDir()
	cp, err := checkpoint.New(target, t.TempDir(), nil, 10, nil)
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	guard := safety.NewGuard(safety.Config{
		MaxIterations:        100,
		MinConfidence:        50,
		MaxFilesPerIteration: 10,
	}, nil)
	p := New(Opts{
		TargetDir:   target,
		Checkers:    checkers,
		Checkpoints: cp,
		Guard:       guard,
	})
	return p, target
}

func writeTarget(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readTarget(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func testFix(confidence int) *issue.CandidateFix {
	return &issue.CandidateFix{
		IssueKey:   "k1",
		Kind:       issue.FixContentReplace,
		TargetFile: "game.js",
		Confidence: confidence,
		Payload:    issue.ContentReplace{Search: "broken()", Replace: "fixed()"},
	}
}

func allStages(c func() *seqChecker) map[string]Checker {
	m := make(map[string]Checker)
	for _, name := range stageOrder {
		m[name] = c()
	}
	return m
}

func TestPipeline_AppliesPassingFix(t *testing.T) {
	p, target := newTestPipeline(t, allStages(pass))
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Score != 100 {
		t.Errorf("score = %.1f, want 100", result.Score)
	}
	if result.Recommendation != issue.RecommendApply {
		t.Errorf("recommendation = %s", result.Recommendation)
	}
	if !result.Applied || result.RolledBack {
		t.Errorf("applied=%v rolledBack=%v", result.Applied, result.RolledBack)
	}
	if got := readTarget(t, target, "game.js"); got != "call fixed() here" {
		t.Errorf("target content = %q", got)
	}
	if result.CheckpointID == "" {
		t.Error("expected checkpoint id recorded")
	}
}

func TestPipeline_SyntaxFailureNeverApplies(t *testing.T) {
	checkers := allStages(pass)
	checkers[StageSyntax] = fail()
	p, target := newTestPipeline(t, checkers)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(95))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 80 points is in the apply band; syntax failure must veto anyway.
	if result.Score != 80 {
		t.Errorf("score = %.1f, want 80", result.Score)
	}
	if result.Applied {
		t.Error("syntax failure must be an automatic non-apply")
	}
	if result.BlockReason != "syntax stage failed" {
		t.Errorf("block reason = %q", result.BlockReason)
	}
	if got := readTarget(t, target, "game.js"); got != "call broken() here" {
		t.Errorf("target was modified: %q", got)
	}
}

func TestPipeline_RegressionPartialCredit(t *testing.T) {
	checkers := allStages(pass)
	checkers[StageRegression] = &seqChecker{outs: []Outcome{{Passed: false, TestsPassed: 5, TestsTotal: 10}}}
	p, target := newTestPipeline(t, checkers)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 20 + 30 + 25*0.5 + 15 + 10 = 87.5
	if result.Score != 87.5 {
		t.Errorf("score = %.1f, want 87.5", result.Score)
	}
	if result.Recommendation != issue.RecommendApplyMonitored {
		t.Errorf("recommendation = %s", result.Recommendation)
	}
	if !result.Applied {
		t.Error("expected apply with monitoring")
	}
}

func TestPipeline_LowScoreRejected(t *testing.T) {
	checkers := map[string]Checker{
		StageSyntax:      pass(),
		StageFunctional:  fail(),
		StageRegression:  fail(),
		StagePerformance: fail(),
		StageSideEffects: fail(),
	}
	p, target := newTestPipeline(t, checkers)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Score != 20 {
		t.Errorf("score = %.1f, want 20", result.Score)
	}
	if result.Recommendation != issue.RecommendReject {
		t.Errorf("recommendation = %s", result.Recommendation)
	}
	if result.Applied {
		t.Error("rejected fix must not be applied")
	}
}

func TestPipeline_GuardBlocksLowConfidenceBeforeStages(t *testing.T) {
	checkers := allStages(pass)
	syntax := pass()
	checkers[StageSyntax] = syntax
	p, target := newTestPipeline(t, checkers)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(30))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Applied {
		t.Error("guard-blocked fix must not be applied")
	}
	if result.BlockReason == "" {
		t.Error("expected a block reason")
	}
	if result.Recommendation != issue.RecommendReject {
		t.Errorf("recommendation = %s, want reject", result.Recommendation)
	}
	// Rejection happens before validation: no stage command may run for
	// a fix that could never be applied.
	if syntax.calls != 0 {
		t.Errorf("stage checker ran %d times for a guard-blocked fix", syntax.calls)
	}
	if len(result.Stages) != 0 {
		t.Errorf("recorded %d stage results, want none", len(result.Stages))
	}
	if got := readTarget(t, target, "game.js"); got != "call broken() here" {
		t.Errorf("target was modified: %q", got)
	}
}

func TestPipeline_SmokeFailureRollsBack(t *testing.T) {
	checkers := allStages(pass)
	// Syntax passes during validation, fails on the post-apply re-run.
	checkers[StageSyntax] = &seqChecker{outs: []Outcome{{Passed: true}, {Passed: false, Detail: "parse error"}}}
	p, target := newTestPipeline(t, checkers)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Applied {
		t.Error("fix was applied before smoke failed")
	}
	if !result.RolledBack {
		t.Error("smoke failure must roll the apply back")
	}
	if got := readTarget(t, target, "game.js"); got != "call broken() here" {
		t.Errorf("rollback did not restore the target: %q", got)
	}
}

func TestPipeline_UnconfiguredStagesPass(t *testing.T) {
	p, target := newTestPipeline(t, nil)
	writeTarget(t, target, "game.js", "call broken() here")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Score != 100 {
		t.Errorf("score = %.1f, want 100", result.Score)
	}
	if !result.Applied {
		t.Error("expected apply with no checkers configured")
	}
}

func TestPipeline_ApplyFailureRollsBack(t *testing.T) {
	p, target := newTestPipeline(t, allStages(pass))
	writeTarget(t, target, "game.js", "nothing to match")

	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	result, err := p.Run(context.Background(), is, testFix(90))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Applied {
		t.Error("failed apply must not be marked applied")
	}
	if result.BlockReason == "" {
		t.Error("expected apply failure recorded as block reason")
	}
	if got := readTarget(t, target, "game.js"); got != "nothing to match" {
		t.Errorf("target content = %q", got)
	}
}

func TestApplyFix_LineInsert(t *testing.T) {
	dir := t.TempDir()
	writeTarget(t, dir, "main.js", "line one\nline two")

	fix := &issue.CandidateFix{
		Kind:       issue.FixLineInsert,
		TargetFile: "main.js",
		Payload:    issue.LineInsert{Line: 2, Text: "inserted"},
	}
	if err := applyFix(dir, fix); err != nil {
		t.Fatalf("applyFix: %v", err)
	}
	if got := readTarget(t, dir, "main.js"); got != "line one\ninserted\nline two" {
		t.Errorf("content = %q", got)
	}

	fix.Payload = issue.LineInsert{Line: 99, Text: "out of range"}
	if err := applyFix(dir, fix); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestPipeline_RejectsEscapingTarget(t *testing.T) {
	p, target := newTestPipeline(t, nil)
	writeTarget(t, target, "game.js", "content")

	fix := testFix(90)
	fix.TargetFile = "../escaped.js"
	is := issue.New(issue.KindFunctional, issue.SeverityHigh, "game", "broken call")
	if _, err := p.Run(context.Background(), is, fix); err == nil {
		t.Error("expected a target outside the managed tree to be rejected")
	}
}

func TestApplyFix_RejectsEscapingPath(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "game")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fix := &issue.CandidateFix{
		Kind:       issue.FixFullReplace,
		TargetFile: "../escaped.txt",
		Payload:    issue.FullReplace{Content: "outside"},
	}
	if err := applyFix(dir, fix); err == nil {
		t.Fatal("expected escaping target path to be rejected")
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("a file was written outside the target tree")
	}
}

func TestApplyFix_FullReplaceCreatesFile(t *testing.T) {
	dir := t.TempDir()
	fix := &issue.CandidateFix{
		Kind:       issue.FixFullReplace,
		TargetFile: "js/new.js",
		Payload:    issue.FullReplace{Content: "fresh content"},
	}
	if err := applyFix(dir, fix); err != nil {
		t.Fatalf("applyFix: %v", err)
	}
	if got := readTarget(t, dir, "js/new.js"); got != "fresh content" {
		t.Errorf("content = %q", got)
	}
}
