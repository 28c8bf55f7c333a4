// Package prioritize ranks detected issues so the loop spends its fix
// budget where it matters most.
package prioritize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/history"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// Config holds ranking weights and caps. Zero-valued fields are filled by
// Default via New.
type Config struct {
	SeverityWeights  map[issue.Severity]float64 `yaml:"severity_weights"`
	ComponentWeights map[string]float64         `yaml:"component_weights"`
	KindWeights      map[issue.Kind]float64     `yaml:"kind_weights"`

	FrequencyBonusFactor float64 `yaml:"frequency_bonus_factor"`
	LateIterationAfter   int     `yaml:"late_iteration_after"`
	LateCriticalBonus    float64 `yaml:"late_critical_bonus"`

	EMAAlpha float64 `yaml:"ema_alpha"`

	// Diversity caps how many issues one component or kind may place in
	// the head of the ranked list. Critical issues get the relaxed cap.
	DiversityCap         int     `yaml:"diversity_cap"`
	CriticalDiversityCap int     `yaml:"critical_diversity_cap"`
	OverflowDiscount     float64 `yaml:"overflow_discount"`
}

// Default returns the standard ranking configuration.
func Default() Config {
	return Config{
		SeverityWeights: map[issue.Severity]float64{
			issue.SeverityCritical: 4,
			issue.SeverityHigh:     3,
			issue.SeverityMedium:   2,
			issue.SeverityLow:      1,
		},
		ComponentWeights: map[string]float64{},
		KindWeights: map[issue.Kind]float64{
			issue.KindInitialization: 20,
			issue.KindRuntime:        15,
			issue.KindRegression:     15,
			issue.KindFunctional:     10,
			issue.KindNetwork:        8,
			issue.KindUI:             5,
		},
		FrequencyBonusFactor: 5,
		LateIterationAfter:   5,
		LateCriticalBonus:    15,
		EMAAlpha:             0.3,
		DiversityCap:         3,
		CriticalDiversityCap: 5,
		OverflowDiscount:     0.3,
	}
}

// domainBonuses are small fixed bumps for known high-value signatures in
// the managed game: a dead primary action button or save-data corruption
// outranks cosmetic noise at equal severity.
var domainBonuses = []struct {
	match string
	bonus float64
	note  string
}{
	{match: "cultivate button", bonus: 10, note: "primary action button"},
	{match: "begin cultivation", bonus: 10, note: "primary action button"},
	{match: "save corruption", bonus: 12, note: "save data integrity"},
	{match: "save-state", bonus: 8, note: "save data integrity"},
}

// domainComponentBonuses bump whole components that guard data integrity.
var domainComponentBonuses = map[string]float64{
	"save-system": 10,
	"game-state":  8,
}

// Ranked pairs an issue with its final score and the trace of contributing
// terms.
type Ranked struct {
	Issue issue.Issue
	Score float64
	Trace []string
}

// Prioritizer scores and orders issue batches.
type Prioritizer struct {
	cfg Config
}

// New creates a Prioritizer, filling unset config fields with defaults.
func New(cfg Config) *Prioritizer {
	def := Default()
	if len(cfg.SeverityWeights) == 0 {
		cfg.SeverityWeights = def.SeverityWeights
	}
	if cfg.ComponentWeights == nil {
		cfg.ComponentWeights = def.ComponentWeights
	}
	if len(cfg.KindWeights) == 0 {
		cfg.KindWeights = def.KindWeights
	}
	if cfg.FrequencyBonusFactor <= 0 {
		cfg.FrequencyBonusFactor = def.FrequencyBonusFactor
	}
	if cfg.LateIterationAfter <= 0 {
		cfg.LateIterationAfter = def.LateIterationAfter
	}
	if cfg.LateCriticalBonus <= 0 {
		cfg.LateCriticalBonus = def.LateCriticalBonus
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha >= 1 {
		cfg.EMAAlpha = def.EMAAlpha
	}
	if cfg.DiversityCap <= 0 {
		cfg.DiversityCap = def.DiversityCap
	}
	if cfg.CriticalDiversityCap <= 0 {
		cfg.CriticalDiversityCap = def.CriticalDiversityCap
	}
	if cfg.OverflowDiscount <= 0 {
		cfg.OverflowDiscount = def.OverflowDiscount
	}
	return &Prioritizer{cfg: cfg}
}

// RankOpts carries the inputs beyond the issue batch itself.
type RankOpts struct {
	FixHistory *history.FixHistory
	Iteration  int

	// DisableDiversity skips the diversity filter; the dependency
	// adjustment still applies.
	DisableDiversity bool
}

// Rank scores the batch and returns it sorted descending by final score.
// Ties break by severity, then frequency.
func (p *Prioritizer) Rank(issues []issue.Issue, opts RankOpts) []Ranked {
	emaRates := p.componentSuccessRates(opts.FixHistory)

	ranked := make([]Ranked, 0, len(issues))
	for _, is := range issues {
		ranked = append(ranked, p.score(is, emaRates, opts.Iteration))
	}

	p.adjustDependencies(ranked)
	sortRanked(ranked)

	if !opts.DisableDiversity {
		ranked = p.applyDiversity(ranked)
	}
	return ranked
}

// score computes the base weighted score for one issue with a full trace.
func (p *Prioritizer) score(is issue.Issue, emaRates map[string]float64, iteration int) Ranked {
	var trace []string

	sev := p.cfg.SeverityWeights[is.Severity] * 25
	comp := p.cfg.ComponentWeights[is.Component]
	kind := p.cfg.KindWeights[is.Kind]
	base := sev + comp + kind
	trace = append(trace, fmt.Sprintf("severity %.0f + component %.0f + kind %.0f = %.0f", sev, comp, kind, base))

	confMult := p.fixabilityMultiplier(is)
	trace = append(trace, fmt.Sprintf("fixability x%.1f", confMult))

	histMult := 1.0
	if rate, ok := emaRates[is.Component]; ok {
		// EMA success rate in [0,1] maps to a multiplier in [0.8,1.2].
		histMult = 0.8 + 0.4*rate
		trace = append(trace, fmt.Sprintf("component history x%.2f (ema %.2f)", histMult, rate))
	}

	score := base * confMult * histMult

	if is.Frequency > 1 {
		freqBonus := math.Log(float64(is.Frequency)) * p.cfg.FrequencyBonusFactor
		score += freqBonus
		trace = append(trace, fmt.Sprintf("frequency bonus +%.1f (seen %dx)", freqBonus, is.Frequency))
	}

	if iteration > p.cfg.LateIterationAfter && is.Severity == issue.SeverityCritical {
		score += p.cfg.LateCriticalBonus
		trace = append(trace, fmt.Sprintf("late-iteration critical bonus +%.0f", p.cfg.LateCriticalBonus))
	}

	if bonus, note := p.domainBonus(is); bonus > 0 {
		score += bonus
		trace = append(trace, fmt.Sprintf("domain bonus +%.0f (%s)", bonus, note))
	}

	return Ranked{Issue: is, Score: score, Trace: trace}
}

// fixabilityMultiplier estimates how tractable an issue is for the
// generation service: located issues are easy, bare runtime traces hard.
func (p *Prioritizer) fixabilityMultiplier(is issue.Issue) float64 {
	if is.Context != nil && is.Context.File != "" {
		return 1.3
	}
	if is.Kind == issue.KindRuntime && (is.Context == nil || is.Context.Stack == "") {
		return 0.7
	}
	return 1.0
}

func (p *Prioritizer) domainBonus(is issue.Issue) (float64, string) {
	msg := strings.ToLower(is.Message)
	for _, d := range domainBonuses {
		if strings.Contains(msg, d.match) {
			return d.bonus, d.note
		}
	}
	if bonus, ok := domainComponentBonuses[is.Component]; ok {
		return bonus, "data-integrity component"
	}
	return 0, ""
}

// componentSuccessRates computes a per-component exponential moving average
// of fix success, walking attempts oldest-first.
func (p *Prioritizer) componentSuccessRates(fh *history.FixHistory) map[string]float64 {
	rates := make(map[string]float64)
	if fh == nil {
		return rates
	}
	seen := make(map[string]bool)
	for _, a := range fh.Attempts() {
		if a.Outcome == history.OutcomeSkipped {
			continue
		}
		value := 0.0
		if a.Outcome == history.OutcomeFixed {
			value = 1.0
		}
		if !seen[a.Component] {
			rates[a.Component] = value
			seen[a.Component] = true
			continue
		}
		rates[a.Component] = p.cfg.EMAAlpha*value + (1-p.cfg.EMAAlpha)*rates[a.Component]
	}
	return rates
}

// adjustDependencies applies the initialization-first heuristic: while any
// initialization issue is unresolved, init issues are boosted as likely
// prerequisites and non-init issues in the same component are discounted
// as likely side effects. This only nudges scores; it never imposes a hard
// ordering.
func (p *Prioritizer) adjustDependencies(ranked []Ranked) {
	initComponents := make(map[string]bool)
	anyInit := false
	for _, r := range ranked {
		if r.Issue.Kind == issue.KindInitialization {
			initComponents[r.Issue.Component] = true
			anyInit = true
		}
	}
	if !anyInit {
		return
	}

	for i := range ranked {
		switch {
		case ranked[i].Issue.Kind == issue.KindInitialization:
			ranked[i].Score *= 1.2
			ranked[i].Trace = append(ranked[i].Trace, "prerequisite boost x1.2 (initialization issue)")
		case initComponents[ranked[i].Issue.Component]:
			ranked[i].Score *= 0.8
			ranked[i].Trace = append(ranked[i].Trace, "side-effect discount x0.8 (component has unresolved initialization issue)")
		}
	}
}

// applyDiversity caps how many issues one component or kind can place at
// the head of the list. Issues beyond the cap keep their slot in the output
// but with a heavily discounted score, so they sort behind everything that
// made the cut.
func (p *Prioritizer) applyDiversity(ranked []Ranked) []Ranked {
	componentCount := make(map[string]int)
	kindCount := make(map[issue.Kind]int)

	var kept, overflow []Ranked
	for _, r := range ranked {
		limit := p.cfg.DiversityCap
		if r.Issue.Severity == issue.SeverityCritical {
			limit = p.cfg.CriticalDiversityCap
		}
		if componentCount[r.Issue.Component] >= limit || kindCount[r.Issue.Kind] >= limit {
			r.Score *= p.cfg.OverflowDiscount
			r.Trace = append(r.Trace, fmt.Sprintf("diversity overflow x%.1f", p.cfg.OverflowDiscount))
			overflow = append(overflow, r)
			continue
		}
		componentCount[r.Issue.Component]++
		kindCount[r.Issue.Kind]++
		kept = append(kept, r)
	}

	out := append(kept, overflow...)
	sortRanked(out)
	return out
}

func sortRanked(ranked []Ranked) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		si, sj := ranked[i].Issue.Severity.Rank(), ranked[j].Issue.Severity.Rank()
		if si != sj {
			return si > sj
		}
		return ranked[i].Issue.Frequency > ranked[j].Issue.Frequency
	})
}
