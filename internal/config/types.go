package config

import (
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/converge"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/prioritize"
)

// Config is the top-level configuration parsed from fixloop YAML.
type Config struct {
	Loop        Loop             `yaml:"loop"`
	Convergence converge.Config  `yaml:"convergence"`
	Priority    prioritize.Config `yaml:"priority"`
	Safety      Safety           `yaml:"safety"`
	Checkpoints Checkpoints      `yaml:"checkpoints"`
	State       State            `yaml:"state"`
	Validation  Validation       `yaml:"validation"`
	Detector    Detector         `yaml:"detector"`
	Generator   Generator        `yaml:"generator"`
	EventLog    EventLog         `yaml:"event_log"`
	Log         Log              `yaml:"log"`
}

// Loop holds the iteration driver settings.
type Loop struct {
	TargetDir       string `yaml:"target_dir"`
	MaxIterations   int    `yaml:"max_iterations"`
	MaxWallClock    string `yaml:"max_wall_clock"`
	Concurrency     int    `yaml:"concurrency"`
	ConfidenceFloor int    `yaml:"confidence_floor"`
	HistoryCapacity int    `yaml:"history_capacity"`
}

// Safety holds every guard-rail threshold. Tolerance for risk is a
// deployment decision, so nothing here is hard-coded in the loop.
type Safety struct {
	MaxConsecutiveFailures        int      `yaml:"max_consecutive_failures"`
	MaxRetriesPerIssue            int      `yaml:"max_retries_per_issue"`
	RegressionRateThreshold       float64  `yaml:"regression_rate_threshold"`
	ComponentFailureWindow        int      `yaml:"component_failure_window"`
	ComponentFailureRateThreshold float64  `yaml:"component_failure_rate_threshold"`
	MemoryCeilingMB               int      `yaml:"memory_ceiling_mb"`
	MaxFilesPerIteration          int      `yaml:"max_files_per_iteration"`
	StabilityWindow               int      `yaml:"stability_window"`
	CriticalFiles                 []string `yaml:"critical_files"`
	CriticalFileConfidence        int      `yaml:"critical_file_confidence"`
	DenyPatterns                  []string `yaml:"deny_patterns"`
	StopMarker                    string   `yaml:"stop_marker"`
	MarkerPollInterval            string   `yaml:"marker_poll_interval"`
}

// Checkpoints configures the snapshot store.
type Checkpoints struct {
	Dir      string   `yaml:"dir"`
	MaxCount int      `yaml:"max_count"`
	Ignore   []string `yaml:"ignore"`
}

// State configures loop state persistence.
type State struct {
	Dir        string `yaml:"dir"`
	MaxBackups int    `yaml:"max_backups"`
}

// StageCheck defines the external command backing one validation stage.
type StageCheck struct {
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// Validation configures the staged validation pipeline.
type Validation struct {
	Stages       map[string]StageCheck `yaml:"stages"`
	StageTimeout string                `yaml:"stage_timeout"`
}

// Detector configures the external defect-detection collaborator.
type Detector struct {
	Mode    string `yaml:"mode"` // "command" or "http"
	Command string `yaml:"command"`
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// Generator configures the external fix-generation collaborator.
type Generator struct {
	URL        string `yaml:"url"`
	Timeout    string `yaml:"timeout"`
	RetryCount int    `yaml:"retry_count"`
}

// EventLog configures the best-effort sqlite event log.
type EventLog struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Log configures logging output.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Duration parses s, falling back to def when unset or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
