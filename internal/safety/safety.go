// Package safety holds the guard rails that keep an unattended fix loop
// from running away: iteration/time/memory limits, retry and regression
// caps, destructive-payload blocking, and the emergency stop.
package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/converge"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// Config holds every guard threshold. Nothing here is hard-coded because
// tolerance for risk is a deployment decision.
type Config struct {
	MaxIterations                 int
	MaxWallClock                  time.Duration
	MaxConsecutiveFailures        int
	MaxRetriesPerIssue            int
	RegressionRateThreshold       float64
	ComponentFailureWindow        int
	ComponentFailureRateThreshold float64
	MemoryCeilingMB               int
	MaxFilesPerIteration          int
	StabilityWindow               int
	MinConfidence                 int
	CriticalFiles                 []string
	CriticalFileConfidence        int
	DenyPatterns                  []string
}

// StopDecision is the structured result of a loop-level guard check.
type StopDecision struct {
	Stop     bool   `json:"stop"`
	Reason   string `json:"reason,omitempty"`
	Severity string `json:"severity,omitempty"` // "critical" or "warning"
}

// BlockDecision is the structured result of a per-fix guard check.
type BlockDecision struct {
	Block  bool   `json:"block"`
	Reason string `json:"reason,omitempty"`
}

// Guard owns all mutable guard state behind one mutex. It replaces the
// ambient global counters of naive implementations; everything callers
// observe goes through methods.
type Guard struct {
	cfg    Config
	logger hclog.Logger
	deny   []*regexp.Regexp

	mu                  sync.Mutex
	consecutiveFailures int
	retries             map[string]int
	recentOutcomes      *history.Ring[history.Outcome]
	filesThisIteration  int
	emergencyStop       bool
	emergencyReason     string
	startTime           time.Time
}

// NewGuard creates a Guard. Invalid deny patterns are dropped with a
// warning rather than failing construction; config validation catches them
// earlier in the normal path.
func NewGuard(cfg Config, logger hclog.Logger) *Guard {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("safety")

	var deny []*regexp.Regexp
	for _, p := range cfg.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("dropping invalid deny pattern", "pattern", p, "error", err)
			continue
		}
		deny = append(deny, re)
	}

	return &Guard{
		cfg:            cfg,
		logger:         logger,
		deny:           deny,
		retries:        make(map[string]int),
		recentOutcomes: history.NewRing[history.Outcome](20),
		startTime:      time.Now(),
	}
}

// SetStartTime overrides the wall-clock baseline (used on resume so the
// budget covers the whole run, not just the current process).
func (g *Guard) SetStartTime(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startTime = t
}

// BeginIteration resets the per-iteration counters.
func (g *Guard) BeginIteration() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filesThisIteration = 0
}

// RecordFileChange counts one mutated file toward the per-iteration cap.
func (g *Guard) RecordFileChange() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filesThisIteration++
}

// RecordOutcome feeds one fix attempt's outcome into the guard state.
func (g *Guard) RecordOutcome(key string, outcome history.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recentOutcomes.Push(outcome)
	switch outcome {
	case history.OutcomeFixed:
		g.consecutiveFailures = 0
	case history.OutcomeFailed:
		g.consecutiveFailures++
		g.retries[key]++
	}
}

// EmergencyStop latches the stop flag. Once set it stays set.
func (g *Guard) EmergencyStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.emergencyStop {
		g.emergencyStop = true
		g.emergencyReason = reason
		g.logger.Warn("emergency stop latched", "reason", reason)
	}
}

// Stopped reports whether the emergency stop is latched.
func (g *Guard) Stopped() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergencyStop, g.emergencyReason
}

// ShouldStopLoop evaluates the loop-level guards against the current
// iteration and error history. Iteration-cap stops are monotonic: a larger
// iteration with the same history can only keep the decision true.
func (g *Guard) ShouldStopLoop(iteration int, errHist *history.ErrorHistory) StopDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.emergencyStop {
		return StopDecision{Stop: true, Reason: g.emergencyReason, Severity: "critical"}
	}
	if iteration >= g.cfg.MaxIterations {
		return StopDecision{
			Stop:     true,
			Reason:   fmt.Sprintf("iteration cap reached (%d)", g.cfg.MaxIterations),
			Severity: "warning",
		}
	}
	if g.cfg.MaxWallClock > 0 && time.Since(g.startTime) > g.cfg.MaxWallClock {
		return StopDecision{
			Stop:     true,
			Reason:   fmt.Sprintf("wall clock budget exceeded (%s)", g.cfg.MaxWallClock),
			Severity: "warning",
		}
	}
	if g.consecutiveFailures >= g.cfg.MaxConsecutiveFailures {
		return StopDecision{
			Stop:     true,
			Reason:   fmt.Sprintf("%d consecutive fix failures", g.consecutiveFailures),
			Severity: "critical",
		}
	}
	if g.cfg.MemoryCeilingMB > 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > uint64(g.cfg.MemoryCeilingMB)*1024*1024 {
			return StopDecision{
				Stop:     true,
				Reason:   fmt.Sprintf("memory ceiling exceeded (%d MB)", ms.HeapAlloc/1024/1024),
				Severity: "critical",
			}
		}
	}
	if d := g.stabilityCheck(errHist); d.Stop {
		return d
	}
	return StopDecision{}
}

// stabilityCheck applies the oscillation math defensively at the loop
// level, independent of the convergence detector: a rising or strongly
// oscillating error trend over the stability window stops the loop.
func (g *Guard) stabilityCheck(errHist *history.ErrorHistory) StopDecision {
	if errHist == nil || g.cfg.StabilityWindow <= 1 {
		return StopDecision{}
	}
	window := errHist.Last(g.cfg.StabilityWindow)
	if len(window) < g.cfg.StabilityWindow {
		return StopDecision{}
	}

	counts := make([]float64, len(window))
	for i, s := range window {
		counts[i] = float64(s.ErrorCount)
	}

	if slope := converge.Slope(counts); slope > 0.5 {
		return StopDecision{
			Stop:     true,
			Reason:   fmt.Sprintf("error count rising (slope %.2f over last %d iterations)", slope, len(window)),
			Severity: "critical",
		}
	}
	if cv := converge.CoefficientOfVariation(counts); cv > 0.5 {
		return StopDecision{
			Stop:     true,
			Reason:   fmt.Sprintf("error count strongly oscillating (cv %.2f over last %d iterations)", cv, len(window)),
			Severity: "critical",
		}
	}
	return StopDecision{}
}

// ShouldSkipIssue decides whether to skip an issue this iteration. It
// returns a non-empty reason when the issue's retry budget is exhausted,
// its fixes keep regressing, or its component is on a losing streak.
func (g *Guard) ShouldSkipIssue(is issue.Issue, fixHist *history.FixHistory) string {
	g.mu.Lock()
	retries := g.retries[is.Key]
	g.mu.Unlock()

	if retries >= g.cfg.MaxRetriesPerIssue {
		return fmt.Sprintf("retry budget exhausted (%d/%d)", retries, g.cfg.MaxRetriesPerIssue)
	}
	if fixHist == nil {
		return ""
	}

	if rate := fixHist.RegressionRate(is.Key); rate > g.cfg.RegressionRateThreshold {
		return fmt.Sprintf("regression rate %.0f%% exceeds threshold", rate*100)
	}

	recent := fixHist.ComponentRecent(is.Component, g.cfg.ComponentFailureWindow)
	if len(recent) >= g.cfg.ComponentFailureWindow {
		failures := 0
		for _, a := range recent {
			if a.Outcome == history.OutcomeFailed {
				failures++
			}
		}
		rate := float64(failures) / float64(len(recent))
		if rate > g.cfg.ComponentFailureRateThreshold {
			return fmt.Sprintf("component %q failing %.0f%% of recent attempts", is.Component, rate*100)
		}
	}
	return ""
}

// ShouldBlockFix is the last gate before a fix is applied.
func (g *Guard) ShouldBlockFix(fix *issue.CandidateFix) BlockDecision {
	if fix.Confidence < g.cfg.MinConfidence {
		return BlockDecision{Block: true, Reason: fmt.Sprintf("confidence %d below floor %d", fix.Confidence, g.cfg.MinConfidence)}
	}
	if g.isCriticalFile(fix.TargetFile) && fix.Confidence < g.cfg.CriticalFileConfidence {
		return BlockDecision{Block: true, Reason: fmt.Sprintf("confidence %d below critical-file floor %d for %s", fix.Confidence, g.cfg.CriticalFileConfidence, fix.TargetFile)}
	}
	if pattern := g.matchDeny(fix); pattern != "" {
		return BlockDecision{Block: true, Reason: fmt.Sprintf("payload matches deny pattern %q", pattern)}
	}

	g.mu.Lock()
	files := g.filesThisIteration
	g.mu.Unlock()
	if files >= g.cfg.MaxFilesPerIteration {
		return BlockDecision{Block: true, Reason: fmt.Sprintf("file-change cap reached for this iteration (%d)", g.cfg.MaxFilesPerIteration)}
	}
	return BlockDecision{}
}

func (g *Guard) isCriticalFile(target string) bool {
	base := filepath.Base(target)
	for _, pattern := range g.cfg.CriticalFiles {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.ToSlash(target)); ok {
			return true
		}
	}
	return false
}

func (g *Guard) matchDeny(fix *issue.CandidateFix) string {
	var body string
	switch p := fix.Payload.(type) {
	case issue.ContentReplace:
		body = p.Replace
	case issue.LineInsert:
		body = p.Text
	case issue.FullReplace:
		body = p.Content
	}
	for _, re := range g.deny {
		if re.MatchString(body) {
			return re.String()
		}
	}
	return ""
}
