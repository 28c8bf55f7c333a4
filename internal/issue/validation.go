package issue

import "time"

// Recommendation is the pipeline's final verdict for a candidate fix.
type Recommendation string

const (
	RecommendApply          Recommendation = "APPLY"
	RecommendApplyMonitored Recommendation = "APPLY_WITH_MONITORING"
	RecommendManualReview   Recommendation = "MANUAL_REVIEW"
	RecommendReject         Recommendation = "REJECT"
)

// StageResult is the outcome of a single validation stage.
type StageResult struct {
	Stage    string        `json:"stage"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`

	// Regression is the only stage with partial credit.
	TestsPassed int `json:"tests_passed,omitempty"`
	TestsTotal  int `json:"tests_total,omitempty"`
}

// ValidationResult is the pipeline output for one (issue, fix) pair.
type ValidationResult struct {
	IssueKey       string         `json:"issue_key"`
	Stages         []StageResult  `json:"stages"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Applied        bool           `json:"applied"`
	RolledBack     bool           `json:"rolled_back"`
	CheckpointID   string         `json:"checkpoint_id,omitempty"`
	BlockReason    string         `json:"block_reason,omitempty"`
}

// Stage returns the named stage result, or nil if it did not run.
func (v *ValidationResult) Stage(name string) *StageResult {
	for i := range v.Stages {
		if v.Stages[i].Stage == name {
			return &v.Stages[i]
		}
	}
	return nil
}
