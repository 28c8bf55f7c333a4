// Package validate implements the staged gate between a candidate fix
// and the managed codebase: checkpoint, run the check stages, score,
// and only then apply — with rollback whenever a later step invalidates
// an apply that already happened.
package validate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/checkpoint"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/safety"
)

// Stage names, in execution order.
const (
	StageSyntax      = "syntax"
	StageFunctional  = "functional"
	StageRegression  = "regression"
	StagePerformance = "performance"
	StageSideEffects = "side-effects"
)

// stageOrder is fixed; configuration chooses commands, never order.
var stageOrder = []string{StageSyntax, StageFunctional, StageRegression, StagePerformance, StageSideEffects}

// stageWeights must sum to 100.
var stageWeights = map[string]float64{
	StageSyntax:      20,
	StageFunctional:  30,
	StageRegression:  25,
	StagePerformance: 15,
	StageSideEffects: 10,
}

// Opts configures a Pipeline.
type Opts struct {
	TargetDir   string
	Checkers    map[string]Checker
	Checkpoints *checkpoint.Manager
	Guard       *safety.Guard
	Logger      hclog.Logger
}

// Pipeline runs the staged validation gate for one candidate fix at a
// time. It is not safe for concurrent Run calls against the same target
// tree; the loop serializes applies through batch barriers.
type Pipeline struct {
	targetDir   string
	checkers    map[string]Checker
	checkpoints *checkpoint.Manager
	guard       *safety.Guard
	logger      hclog.Logger
}

// New creates a Pipeline.
func New(opts Opts) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{
		targetDir:   opts.TargetDir,
		checkers:    opts.Checkers,
		checkpoints: opts.Checkpoints,
		guard:       opts.Guard,
		logger:      logger.Named("validate"),
	}
}

// Run validates one candidate fix and applies it if warranted. The
// returned error marks a pipeline fault (checkpointing broken, checker
// unrunnable); a fix that merely fails validation comes back with a
// result and a nil error.
func (p *Pipeline) Run(ctx context.Context, is issue.Issue, fix *issue.CandidateFix) (*issue.ValidationResult, error) {
	result := &issue.ValidationResult{IssueKey: is.Key}

	if err := p.initialize(is, fix); err != nil {
		return nil, err
	}

	// A fix the guard would never let through is rejected up front, so
	// the stage commands don't burn minutes validating a dead candidate.
	if decision := p.guard.ShouldBlockFix(fix); decision.Block {
		result.BlockReason = decision.Reason
		result.Recommendation = issue.RecommendReject
		p.report(is, fix, result)
		return result, nil
	}

	cpID, err := p.checkpoints.Create(checkpoint.CreateOpts{
		Description: fmt.Sprintf("pre-validation for %s", is.Key),
		IssueKey:    is.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("create validation checkpoint: %w", err)
	}
	result.CheckpointID = cpID
	p.checkpoints.Pin(cpID)
	defer p.checkpoints.Unpin(cpID)

	if err := p.runStages(ctx, result); err != nil {
		return nil, err
	}

	result.Score = p.evaluate(result)
	result.Recommendation = recommend(result.Score)

	p.applyIfWarranted(ctx, result, fix, cpID)

	if result.Applied {
		p.smoke(ctx, result, cpID)
	}

	p.report(is, fix, result)
	return result, nil
}

// initialize rejects malformed input before anything touches disk.
func (p *Pipeline) initialize(is issue.Issue, fix *issue.CandidateFix) error {
	if fix == nil {
		return fmt.Errorf("no candidate fix for %s", is.Key)
	}
	if fix.Payload == nil {
		return fmt.Errorf("candidate fix for %s has no payload", is.Key)
	}
	if fix.TargetFile == "" {
		return fmt.Errorf("candidate fix for %s has no target file", is.Key)
	}
	if !filepath.IsLocal(fix.TargetFile) {
		return fmt.Errorf("candidate fix for %s targets %q outside the managed tree", is.Key, fix.TargetFile)
	}
	return nil
}

// runStages executes the five check stages in order. Individual stage
// failures are recorded and scoring continues; only an unrunnable
// checker aborts the pipeline.
func (p *Pipeline) runStages(ctx context.Context, result *issue.ValidationResult) error {
	for _, name := range stageOrder {
		checker, ok := p.checkers[name]
		if !ok {
			result.Stages = append(result.Stages, issue.StageResult{
				Stage:  name,
				Passed: true,
				Detail: "no checker configured",
			})
			continue
		}

		start := time.Now()
		out, err := checker.Check(ctx)
		if err != nil {
			return fmt.Errorf("%s stage: %w", name, err)
		}
		result.Stages = append(result.Stages, issue.StageResult{
			Stage:       name,
			Passed:      out.Passed,
			Detail:      out.Detail,
			Duration:    time.Since(start),
			TestsPassed: out.TestsPassed,
			TestsTotal:  out.TestsTotal,
		})
	}
	return nil
}

// evaluate computes the weighted score. A passing stage contributes its
// full weight; regression alone earns proportional credit from its test
// counts even when the stage as a whole failed.
func (p *Pipeline) evaluate(result *issue.ValidationResult) float64 {
	var score float64
	for _, sr := range result.Stages {
		weight := stageWeights[sr.Stage]
		switch {
		case sr.Stage == StageRegression && sr.TestsTotal > 0:
			score += weight * float64(sr.TestsPassed) / float64(sr.TestsTotal)
		case sr.Passed:
			score += weight
		}
	}
	return score
}

func recommend(score float64) issue.Recommendation {
	switch {
	case score >= 90:
		return issue.RecommendApply
	case score >= 75:
		return issue.RecommendApplyMonitored
	case score >= 50:
		return issue.RecommendManualReview
	default:
		return issue.RecommendReject
	}
}

// applyIfWarranted applies the fix when the recommendation allows it and
// no guard vetoes it. Syntax failure is an automatic non-apply no matter
// what the weighted score says.
func (p *Pipeline) applyIfWarranted(ctx context.Context, result *issue.ValidationResult, fix *issue.CandidateFix, cpID string) {
	if result.Recommendation != issue.RecommendApply && result.Recommendation != issue.RecommendApplyMonitored {
		return
	}
	if syntax := result.Stage(StageSyntax); syntax != nil && !syntax.Passed {
		result.BlockReason = "syntax stage failed"
		return
	}
	if err := ctx.Err(); err != nil {
		result.BlockReason = "cancelled before apply"
		return
	}
	if decision := p.guard.ShouldBlockFix(fix); decision.Block {
		result.BlockReason = decision.Reason
		return
	}

	if err := applyFix(p.targetDir, fix); err != nil {
		p.logger.Warn("apply failed, rolling back", "issue", result.IssueKey, "error", err)
		result.BlockReason = fmt.Sprintf("apply failed: %v", err)
		result.RolledBack = p.emergencyRollback(cpID)
		return
	}
	p.guard.RecordFileChange()
	result.Applied = true
}

// smoke re-runs the syntax checker against the now-mutated tree. A
// failure here invalidates the apply and rolls it back.
func (p *Pipeline) smoke(ctx context.Context, result *issue.ValidationResult, cpID string) {
	checker, ok := p.checkers[StageSyntax]
	if !ok {
		return
	}

	start := time.Now()
	out, err := checker.Check(ctx)
	sr := issue.StageResult{
		Stage:    "post-apply-smoke",
		Passed:   err == nil && out.Passed,
		Detail:   out.Detail,
		Duration: time.Since(start),
	}
	if err != nil {
		sr.Detail = err.Error()
	}
	result.Stages = append(result.Stages, sr)

	if !sr.Passed {
		p.logger.Warn("post-apply smoke failed, rolling back", "issue", result.IssueKey, "detail", sr.Detail)
		result.RolledBack = p.emergencyRollback(cpID)
	}
}

// emergencyRollback restores the pipeline's own checkpoint. It reports
// whether the restore actually executed; a failed restore latches the
// emergency stop because the tree state is no longer trustworthy.
func (p *Pipeline) emergencyRollback(cpID string) bool {
	res, err := p.checkpoints.Restore(cpID, checkpoint.RestoreOpts{SkipSafetyCheckpoint: true})
	if err != nil {
		p.logger.Error("emergency rollback failed", "checkpoint", cpID, "error", err)
		p.guard.EmergencyStop(fmt.Sprintf("rollback to checkpoint %s failed: %v", cpID, err))
		return false
	}
	return res.Executed
}

func (p *Pipeline) report(is issue.Issue, fix *issue.CandidateFix, result *issue.ValidationResult) {
	p.logger.Info("validation finished",
		"issue", is.Key,
		"component", is.Component,
		"target", fix.TargetFile,
		"score", result.Score,
		"recommendation", result.Recommendation,
		"applied", result.Applied,
		"rolled_back", result.RolledBack,
	)
}
