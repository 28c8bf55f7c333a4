package config

import (
	"fmt"
	"regexp"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// validationStages is the fixed set of stage names the pipeline runs.
var validationStages = map[string]bool{
	"syntax":       true,
	"functional":   true,
	"regression":   true,
	"performance":  true,
	"side-effects": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Loop.ConfidenceFloor < 0 || cfg.Loop.ConfidenceFloor > 100 {
		errs = append(errs, ValidationError{Field: "loop.confidence_floor", Message: "must be between 0 and 100"})
	}
	if _, err := time.ParseDuration(cfg.Loop.MaxWallClock); err != nil {
		errs = append(errs, ValidationError{Field: "loop.max_wall_clock", Message: fmt.Sprintf("invalid duration %q", cfg.Loop.MaxWallClock)})
	}

	for name := range cfg.Validation.Stages {
		if !validationStages[name] {
			errs = append(errs, ValidationError{
				Field:   "validation.stages",
				Message: fmt.Sprintf("unknown stage %q", name),
			})
		}
	}
	for name, stage := range cfg.Validation.Stages {
		if stage.Command == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("validation.stages.%s.command", name),
				Message: "is required",
			})
		}
		if stage.Timeout != "" {
			if _, err := time.ParseDuration(stage.Timeout); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("validation.stages.%s.timeout", name),
					Message: fmt.Sprintf("invalid duration %q", stage.Timeout),
				})
			}
		}
	}

	switch cfg.Detector.Mode {
	case "command":
		if cfg.Detector.Command == "" {
			errs = append(errs, ValidationError{Field: "detector.command", Message: "is required in command mode"})
		}
	case "http":
		if cfg.Detector.URL == "" {
			errs = append(errs, ValidationError{Field: "detector.url", Message: "is required in http mode"})
		}
	default:
		errs = append(errs, ValidationError{Field: "detector.mode", Message: fmt.Sprintf("must be \"command\" or \"http\", got %q", cfg.Detector.Mode)})
	}

	if cfg.Generator.URL == "" {
		errs = append(errs, ValidationError{Field: "generator.url", Message: "is required"})
	}

	for i, pattern := range cfg.Safety.DenyPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("safety.deny_patterns[%d]", i),
				Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
			})
		}
	}
	if cfg.Safety.RegressionRateThreshold > 1 {
		errs = append(errs, ValidationError{Field: "safety.regression_rate_threshold", Message: "must be at most 1.0"})
	}
	if cfg.Safety.ComponentFailureRateThreshold > 1 {
		errs = append(errs, ValidationError{Field: "safety.component_failure_rate_threshold", Message: "must be at most 1.0"})
	}

	return errs
}
