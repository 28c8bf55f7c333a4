package loop

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/generate"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/prioritize"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/validate"
)

// attempt accumulates everything known about one issue's trip through
// the iteration: skip decision, generated fix, validation result.
type attempt struct {
	ranked     prioritize.Ranked
	skipReason string
	fix        *issue.CandidateFix
	result     *issue.ValidationResult
	start      time.Time
	duration   time.Duration
}

// runIteration executes one full detect→rank→fix cycle and records the
// resulting error sample. It also reports how many issues the detection
// pass found, so the controller can short-circuit a clean tree. A
// returned error is a fatal orchestration fault; per-issue failures are
// absorbed into history instead.
func (c *Controller) runIteration(ctx context.Context, iter int, ls *state.LoopState, errHist *history.ErrorHistory, fixHist *history.FixHistory) (history.ErrorSample, int, error) {
	c.deps.Guard.BeginIteration()
	c.logger.Info("iteration starting", "iteration", iter)

	issues, err := c.deps.Detector.Detect(ctx)
	if err != nil {
		return history.ErrorSample{}, 0, fmt.Errorf("detect: %w", err)
	}
	ls.TotalErrors = len(issues)
	c.logEvent(iter, "detect", fmt.Sprintf("%d issues", len(issues)))

	if len(issues) == 0 {
		return errHist.Record(iter, 0), 0, nil
	}

	ranked := c.deps.Prioritizer.Rank(issues, prioritize.RankOpts{
		FixHistory: fixHist,
		Iteration:  iter,
	})

	successes := 0
	for start := 0; start < len(ranked); start += c.params.Concurrency {
		if ctx.Err() != nil {
			break
		}
		end := start + c.params.Concurrency
		if end > len(ranked) {
			end = len(ranked)
		}

		batch := c.prepareBatch(ctx, iter, ranked[start:end], fixHist)
		for i := range batch {
			c.validateAndRecord(ctx, iter, &batch[i], ls, fixHist)
			if batch[i].outcome() == history.OutcomeFixed {
				successes++
			}
		}
	}

	return errHist.Record(iter, len(issues)-successes), len(issues), nil
}

// prepareBatch runs the skip gate and fix generation for one batch. Fix
// generation is the network-bound part, so it fans out; everything that
// mutates shared state stays out of the group.
func (c *Controller) prepareBatch(ctx context.Context, iter int, batch []prioritize.Ranked, fixHist *history.FixHistory) []attempt {
	attempts := make([]attempt, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.params.Concurrency)

	for i, r := range batch {
		attempts[i] = attempt{ranked: r, start: time.Now().UTC()}
		if reason := c.deps.Guard.ShouldSkipIssue(r.Issue, fixHist); reason != "" {
			attempts[i].skipReason = reason
			continue
		}

		a := &attempts[i]
		g.Go(func() error {
			fix, err := c.deps.Generator.Generate(gctx, a.ranked.Issue, generate.FixContext{
				Iteration:        iter,
				PreviousFailures: failureReasons(fixHist, a.ranked.Issue.Key),
				TargetDir:        c.params.TargetDir,
			})
			if err != nil {
				// No fix produced is a skip, never a loop fault.
				a.skipReason = fmt.Sprintf("no fix produced: %v", err)
				return nil
			}
			a.fix = fix
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

// validateAndRecord runs the pipeline for one prepared attempt and
// records its outcome everywhere it matters: fix history, guard state,
// loop counters, event log. Applies are serialized here; only the
// generation phase overlaps.
func (c *Controller) validateAndRecord(ctx context.Context, iter int, a *attempt, ls *state.LoopState, fixHist *history.FixHistory) {
	is := a.ranked.Issue

	if a.skipReason == "" && a.fix != nil && ctx.Err() == nil {
		result, err := c.deps.Pipeline.Run(ctx, is, a.fix)
		if err != nil {
			a.skipReason = fmt.Sprintf("validation fault: %v", err)
			c.logger.Warn("validation fault", "issue", is.Key, "error", err)
		} else {
			a.result = result
		}
	} else if a.skipReason == "" {
		a.skipReason = "cancelled"
	}
	a.duration = time.Since(a.start)

	record := history.FixAttempt{
		IssueKey:  is.Key,
		Component: is.Component,
		Kind:      is.Kind,
		Iteration: iter,
		Outcome:   a.outcome(),
		Duration:  a.duration,
		Timestamp: time.Now().UTC(),
	}
	switch record.Outcome {
	case history.OutcomeFixed:
		ls.FixedErrors++
	case history.OutcomeFailed:
		ls.FailedFixes++
		record.FailureReason = a.failureReason()
	case history.OutcomeSkipped:
		ls.SkippedFixes++
		record.FailureReason = a.skipReason
	}
	if a.result != nil {
		record.Applied = a.result.Applied
		record.Recommendation = a.result.Recommendation
		record.Regression = regressed(a.result)
	}

	fixHist.Record(record)
	c.deps.Guard.RecordOutcome(is.Key, record.Outcome)
	if c.deps.Events != nil {
		_ = c.deps.Events.LogFixAttempt(record, a.ranked.Score)
	}
}

// outcome classifies the attempt: fixed when the fix was applied and
// survived, failed when validation rejected or rolled it back, skipped
// when it never reached validation.
func (a *attempt) outcome() history.Outcome {
	if a.result != nil {
		if a.result.Applied && !a.result.RolledBack {
			return history.OutcomeFixed
		}
		return history.OutcomeFailed
	}
	return history.OutcomeSkipped
}

func (a *attempt) failureReason() string {
	if a.result == nil {
		return a.skipReason
	}
	if a.result.BlockReason != "" {
		return a.result.BlockReason
	}
	if a.result.RolledBack {
		return "rolled back after apply"
	}
	return fmt.Sprintf("recommendation %s (score %.0f)", a.result.Recommendation, a.result.Score)
}

// regressed reports whether the regression stage failed outright.
func regressed(result *issue.ValidationResult) bool {
	sr := result.Stage(validate.StageRegression)
	return sr != nil && !sr.Passed
}

// failureReasons collects prior failure reasons for one issue, newest
// last, for the generation service's context.
func failureReasons(fixHist *history.FixHistory, key string) []string {
	var reasons []string
	for _, a := range fixHist.ForKey(key) {
		if a.Outcome == history.OutcomeFailed && a.FailureReason != "" {
			reasons = append(reasons, a.FailureReason)
		}
	}
	if len(reasons) > 5 {
		reasons = reasons[len(reasons)-5:]
	}
	return reasons
}
