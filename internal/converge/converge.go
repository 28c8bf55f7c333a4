// Package converge decides when the fix loop should stop, based purely on
// the recorded sequence of per-iteration error counts.
package converge

import (
	"fmt"
	"math"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
)

// Rule names a convergence rule.
type Rule string

const (
	RulePerfect     Rule = "perfect_convergence"
	RuleAcceptable  Rule = "acceptable_convergence"
	RuleStalled     Rule = "progress_stalled"
	RuleOscillating Rule = "oscillation_detected"
	RuleDiminishing Rule = "diminishing_returns"
)

// Config holds the convergence thresholds. All fields have working defaults
// applied by Default.
type Config struct {
	ZeroThreshold        int     `yaml:"zero_threshold"`
	AcceptableCeiling    int     `yaml:"acceptable_ceiling"`
	StallWindow          int     `yaml:"stall_window"`
	StallThreshold       float64 `yaml:"stall_threshold"`
	OscillationWindow    int     `yaml:"oscillation_window"`
	OscillationThreshold float64 `yaml:"oscillation_threshold"`
	DiminishingWindow    int     `yaml:"diminishing_window"`
	DiminishingSlope     float64 `yaml:"diminishing_slope"`
	MinIterations        int     `yaml:"min_iterations"`
}

// Default returns the standard convergence thresholds.
func Default() Config {
	return Config{
		ZeroThreshold:        0,
		AcceptableCeiling:    0, // disabled: only zero errors is acceptable
		StallWindow:          3,
		StallThreshold:       0.05,
		OscillationWindow:    5,
		OscillationThreshold: 0.3,
		DiminishingWindow:    4,
		DiminishingSlope:     -0.1,
		MinIterations:        2,
	}
}

// Finding records the evaluation of one rule with its numeric evidence.
type Finding struct {
	Rule       Rule    `json:"rule"`
	Triggered  bool    `json:"triggered"`
	Confidence int     `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
}

// Analysis is the full structured result of a convergence check.
type Analysis struct {
	Converged        bool      `json:"converged"`
	Reason           Rule      `json:"reason,omitempty"`
	Confidence       int       `json:"confidence"`
	ConsiderStopping bool      `json:"consider_stopping"`
	Findings         []Finding `json:"findings"`

	PerfectConvergence    bool `json:"perfect_convergence"`
	AcceptableConvergence bool `json:"acceptable_convergence"`
	ProgressStalled       bool `json:"progress_stalled"`
	OscillationDetected   bool `json:"oscillation_detected"`
	DiminishingReturns    bool `json:"diminishing_returns"`
}

// Detector evaluates convergence rules over an error history.
type Detector struct {
	cfg Config
}

// New creates a Detector, filling unset config fields with defaults.
func New(cfg Config) *Detector {
	def := Default()
	if cfg.StallWindow <= 0 {
		cfg.StallWindow = def.StallWindow
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = def.StallThreshold
	}
	if cfg.OscillationWindow <= 0 {
		cfg.OscillationWindow = def.OscillationWindow
	}
	if cfg.OscillationThreshold <= 0 {
		cfg.OscillationThreshold = def.OscillationThreshold
	}
	if cfg.DiminishingWindow <= 0 {
		cfg.DiminishingWindow = def.DiminishingWindow
	}
	if cfg.DiminishingSlope == 0 {
		cfg.DiminishingSlope = def.DiminishingSlope
	}
	if cfg.MinIterations <= 0 {
		cfg.MinIterations = def.MinIterations
	}
	return &Detector{cfg: cfg}
}

// Analyze evaluates every rule against the history and returns the decision
// plus per-rule evidence. With fewer than MinIterations samples it never
// declares convergence.
func (d *Detector) Analyze(h *history.ErrorHistory) Analysis {
	var a Analysis

	latest, ok := h.Latest()
	if !ok {
		return a
	}

	// Rules are evaluated in precedence order; the first triggered rule
	// that forces a stop sets the headline decision.
	perfect := d.checkPerfect(latest)
	acceptable := d.checkAcceptable(latest)
	stalled := d.checkStalled(h)
	oscillating := d.checkOscillating(h)
	diminishing := d.checkDiminishing(h)
	a.Findings = []Finding{perfect, acceptable, stalled, oscillating, diminishing}

	a.PerfectConvergence = perfect.Triggered
	a.AcceptableConvergence = acceptable.Triggered
	a.ProgressStalled = stalled.Triggered
	a.OscillationDetected = oscillating.Triggered
	a.DiminishingReturns = diminishing.Triggered

	if h.Len() < d.cfg.MinIterations {
		return a
	}

	for _, f := range []Finding{perfect, acceptable, stalled, oscillating} {
		if f.Triggered {
			a.Converged = true
			a.Reason = f.Rule
			a.Confidence = f.Confidence
			break
		}
	}

	// Diminishing returns is advisory only and never forces a stop.
	if !a.Converged && diminishing.Triggered {
		a.ConsiderStopping = true
		a.Confidence = diminishing.Confidence
		a.Reason = RuleDiminishing
	}

	return a
}

func (d *Detector) checkPerfect(latest history.ErrorSample) Finding {
	return Finding{
		Rule:       RulePerfect,
		Triggered:  latest.ErrorCount <= d.cfg.ZeroThreshold,
		Confidence: 100,
		Value:      float64(latest.ErrorCount),
		Threshold:  float64(d.cfg.ZeroThreshold),
		Evidence:   fmt.Sprintf("error count %d, zero threshold %d", latest.ErrorCount, d.cfg.ZeroThreshold),
	}
}

func (d *Detector) checkAcceptable(latest history.ErrorSample) Finding {
	triggered := d.cfg.AcceptableCeiling > 0 && latest.ErrorCount <= d.cfg.AcceptableCeiling
	return Finding{
		Rule:       RuleAcceptable,
		Triggered:  triggered,
		Confidence: 90,
		Value:      float64(latest.ErrorCount),
		Threshold:  float64(d.cfg.AcceptableCeiling),
		Evidence:   fmt.Sprintf("error count %d, acceptable ceiling %d", latest.ErrorCount, d.cfg.AcceptableCeiling),
	}
}

// checkStalled looks for an essentially flat error count over the stall
// window: (max-min)/mean below the stall threshold.
func (d *Detector) checkStalled(h *history.ErrorHistory) Finding {
	f := Finding{Rule: RuleStalled, Confidence: 80, Threshold: d.cfg.StallThreshold}
	window := h.Last(d.cfg.StallWindow)
	if len(window) < d.cfg.StallWindow {
		f.Evidence = fmt.Sprintf("need %d samples, have %d", d.cfg.StallWindow, len(window))
		return f
	}

	counts := sampleCounts(window)
	mean := mean(counts)
	if mean == 0 {
		// All-zero window is perfect convergence territory, not a stall.
		f.Evidence = "window mean is zero"
		return f
	}
	spread := (max(counts) - min(counts)) / mean
	f.Value = spread
	f.Triggered = spread < d.cfg.StallThreshold
	f.Evidence = fmt.Sprintf("spread/mean %.4f over last %d samples, threshold %.4f", spread, len(window), d.cfg.StallThreshold)
	return f
}

// checkOscillating flags a high coefficient of variation over the
// oscillation window: repeated fixes destabilizing the system.
func (d *Detector) checkOscillating(h *history.ErrorHistory) Finding {
	f := Finding{Rule: RuleOscillating, Confidence: 75, Threshold: d.cfg.OscillationThreshold}
	window := h.Last(d.cfg.OscillationWindow)
	if len(window) < d.cfg.OscillationWindow {
		f.Evidence = fmt.Sprintf("need %d samples, have %d", d.cfg.OscillationWindow, len(window))
		return f
	}

	counts := sampleCounts(window)
	cv := CoefficientOfVariation(counts)
	f.Value = cv
	f.Triggered = cv > d.cfg.OscillationThreshold
	f.Evidence = fmt.Sprintf("coefficient of variation %.4f over last %d samples, threshold %.4f", cv, len(window), d.cfg.OscillationThreshold)
	return f
}

// checkDiminishing fits a line to the improvement rate over the window and
// flags a slope falling below the configured (negative) threshold.
func (d *Detector) checkDiminishing(h *history.ErrorHistory) Finding {
	f := Finding{Rule: RuleDiminishing, Confidence: 60, Threshold: d.cfg.DiminishingSlope}
	window := h.Last(d.cfg.DiminishingWindow)
	if len(window) < d.cfg.DiminishingWindow {
		f.Evidence = fmt.Sprintf("need %d samples, have %d", d.cfg.DiminishingWindow, len(window))
		return f
	}

	rates := make([]float64, len(window))
	for i, s := range window {
		rates[i] = s.ImprovementRate
	}
	slope := Slope(rates)
	f.Value = slope
	f.Triggered = slope < d.cfg.DiminishingSlope
	f.Evidence = fmt.Sprintf("improvement rate slope %.4f over last %d samples, threshold %.4f", slope, len(window), d.cfg.DiminishingSlope)
	return f
}

func sampleCounts(samples []history.ErrorSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.ErrorCount)
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

// CoefficientOfVariation returns stddev/mean, or 0 for an all-zero series.
func CoefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	return stddev(values) / m
}

// Slope returns the least-squares slope of values against their indexes.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func max(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func min(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
