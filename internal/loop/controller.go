// Package loop drives the detect → rank → fix → validate → apply cycle
// until the convergence detector or a safety guard says stop. It owns
// iteration order and persistence; everything it orchestrates lives
// behind the collaborator interfaces in Deps.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/converge"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/db"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/detect"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/generate"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/prioritize"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/safety"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/validate"
)

// ErrNothingToResume means the saved state describes a finished run.
var ErrNothingToResume = errors.New("saved state describes a finished run")

// Deps are the controller's collaborators. Events may be nil; event
// logging is best-effort throughout.
type Deps struct {
	Detector    detect.Detector
	Generator   generate.Generator
	Pipeline    *validate.Pipeline
	Guard       *safety.Guard
	Prioritizer *prioritize.Prioritizer
	Convergence *converge.Detector
	Store       *state.Store
	Events      *db.DB
	Logger      hclog.Logger
}

// Params are the controller's own knobs, separate from collaborator
// configuration.
type Params struct {
	TargetDir       string
	Concurrency     int
	HistoryCapacity int
}

// FinalReport summarizes a finished (or stopped) run. TotalErrors is
// the last detection pass's issue count; the fix counters are
// cumulative.
type FinalReport struct {
	Status            state.Status  `json:"status"`
	Iterations        int           `json:"iterations"`
	TotalErrors       int           `json:"total_errors"`
	FixedErrors       int           `json:"fixed_errors"`
	FailedFixes       int           `json:"failed_fixes"`
	SkippedFixes      int           `json:"skipped_fixes"`
	Converged         bool          `json:"converged"`
	ConvergenceReason converge.Rule `json:"convergence_reason,omitempty"`
	Confidence        int           `json:"confidence,omitempty"`
	StopReason        string        `json:"stop_reason,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Controller is the single control-flow driver. One Run or Resume call
// per Controller; it is not reentrant.
type Controller struct {
	deps   Deps
	params Params
	logger hclog.Logger
}

// New creates a Controller.
func New(deps Deps, params Params) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 1
	}
	return &Controller{deps: deps, params: params, logger: logger.Named("loop")}
}

// Run starts a fresh loop from iteration 1.
func (c *Controller) Run(ctx context.Context) (*FinalReport, error) {
	ls := state.LoopState{
		Status:    state.StatusRunning,
		StartTime: time.Now().UTC(),
	}
	errHist := history.NewErrorHistory(c.params.HistoryCapacity)
	fixHist := history.NewFixHistory(c.params.HistoryCapacity)
	return c.run(ctx, ls, errHist, fixHist, 1)
}

// Resume continues an interrupted run from the iteration after the last
// persisted one. The wall-clock budget keeps counting from the original
// start time.
func (c *Controller) Resume(ctx context.Context) (*FinalReport, error) {
	saved, err := c.deps.Store.Load()
	if err != nil {
		return nil, err
	}
	switch saved.LoopState.Status {
	case state.StatusInterrupted, state.StatusRunning:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrNothingToResume, saved.LoopState.Status)
	}

	ls := saved.LoopState
	ls.Status = state.StatusRunning
	ls.EndTime = nil
	errHist := history.RestoreErrorHistory(c.params.HistoryCapacity, saved.History.ErrorHistory)
	fixHist := history.RestoreFixHistory(c.params.HistoryCapacity, saved.History.FixHistory)
	c.deps.Guard.SetStartTime(ls.StartTime)

	c.logger.Info("resuming loop", "iteration", ls.Iteration+1, "started", ls.StartTime)
	c.logEvent(ls.Iteration, "resume", fmt.Sprintf("resuming after iteration %d", ls.Iteration))
	return c.run(ctx, ls, errHist, fixHist, ls.Iteration+1)
}

// run is the iteration driver shared by Run and Resume.
func (c *Controller) run(ctx context.Context, ls state.LoopState, errHist *history.ErrorHistory, fixHist *history.FixHistory, firstIteration int) (*FinalReport, error) {
	report := &FinalReport{}
	var analysis converge.Analysis

	for iter := firstIteration; ; iter++ {
		if ctx.Err() != nil {
			return c.finish(&ls, errHist, fixHist, report, state.StatusInterrupted, "interrupted")
		}
		if stop := c.deps.Guard.ShouldStopLoop(ls.Iteration, errHist); stop.Stop {
			report.StopReason = stop.Reason
			status := state.StatusFailed
			if analysis.Converged {
				status = state.StatusSuccess
			}
			return c.finish(&ls, errHist, fixHist, report, status, stop.Reason)
		}

		sample, detected, err := c.runIteration(ctx, iter, &ls, errHist, fixHist)
		if err != nil {
			if ctx.Err() != nil {
				return c.finish(&ls, errHist, fixHist, report, state.StatusInterrupted, "interrupted")
			}
			report.StopReason = err.Error()
			if _, ferr := c.finish(&ls, errHist, fixHist, report, state.StatusFailed, err.Error()); ferr != nil {
				c.logger.Error("persisting failure state", "error", ferr)
			}
			return report, err
		}

		ls.Iteration = iter
		if err := c.save(ls, errHist, fixHist); err != nil {
			return report, fmt.Errorf("persist loop state: %w", err)
		}

		// A clean detection pass is success outright; no further
		// iterations are needed to confirm what detection just said.
		if detected == 0 {
			report.Converged = true
			report.ConvergenceReason = converge.RulePerfect
			report.Confidence = 100
			c.logEvent(iter, "iteration", "no issues detected")
			return c.finish(&ls, errHist, fixHist, report, state.StatusSuccess, string(converge.RulePerfect))
		}

		analysis = c.deps.Convergence.Analyze(errHist)
		c.logEvent(iter, "iteration", fmt.Sprintf("errors=%d improvement=%d converged=%v", sample.ErrorCount, sample.Improvement, analysis.Converged))
		if analysis.Converged {
			report.Converged = true
			report.ConvergenceReason = analysis.Reason
			report.Confidence = analysis.Confidence
			return c.finish(&ls, errHist, fixHist, report, state.StatusSuccess, string(analysis.Reason))
		}
		if analysis.ConsiderStopping {
			c.logger.Warn("diminishing returns, consider stopping", "confidence", analysis.Confidence)
		}
	}
}

// finish stamps the final status, persists it, and builds the report.
func (c *Controller) finish(ls *state.LoopState, errHist *history.ErrorHistory, fixHist *history.FixHistory, report *FinalReport, status state.Status, reason string) (*FinalReport, error) {
	now := time.Now().UTC()
	ls.Status = status
	ls.EndTime = &now

	report.Status = status
	report.Iterations = ls.Iteration
	report.TotalErrors = ls.TotalErrors
	report.FixedErrors = ls.FixedErrors
	report.FailedFixes = ls.FailedFixes
	report.SkippedFixes = ls.SkippedFixes
	report.Duration = now.Sub(ls.StartTime)
	if report.StopReason == "" {
		report.StopReason = reason
	}

	c.logEvent(ls.Iteration, "finish", fmt.Sprintf("status=%s reason=%s", status, reason))
	c.logger.Info("loop finished",
		"status", status,
		"reason", reason,
		"iterations", ls.Iteration,
		"fixed", ls.FixedErrors,
		"failed", ls.FailedFixes,
		"skipped", ls.SkippedFixes,
		"duration", report.Duration.Round(time.Second),
	)

	if err := c.save(*ls, errHist, fixHist); err != nil {
		return report, fmt.Errorf("persist final state: %w", err)
	}
	return report, nil
}

func (c *Controller) save(ls state.LoopState, errHist *history.ErrorHistory, fixHist *history.FixHistory) error {
	return c.deps.Store.Save(ls, state.Histories{
		ErrorHistory: errHist.Samples(),
		FixHistory:   fixHist.Attempts(),
	})
}

// logEvent writes to the sqlite event log, best-effort.
func (c *Controller) logEvent(iteration int, event, detail string) {
	if c.deps.Events == nil {
		return
	}
	_ = c.deps.Events.LogLoopEvent(iteration, event, detail)
}
