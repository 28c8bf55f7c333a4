package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a fixloop configuration from the given YAML path.
// After parsing, it applies defaults to everything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config found.
// Search order: ./fixloop.yaml, ~/.fixloop/config.yaml. When nothing is
// found it returns the built-in defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"fixloop.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".fixloop", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills every unset field with a working default.
func applyDefaults(cfg *Config) {
	if cfg.Loop.TargetDir == "" {
		cfg.Loop.TargetDir = "."
	}
	if cfg.Loop.MaxIterations <= 0 {
		cfg.Loop.MaxIterations = 10
	}
	if cfg.Loop.MaxWallClock == "" {
		cfg.Loop.MaxWallClock = "30m"
	}
	if cfg.Loop.Concurrency <= 0 {
		cfg.Loop.Concurrency = 3
	}
	if cfg.Loop.ConfidenceFloor <= 0 {
		cfg.Loop.ConfidenceFloor = 60
	}
	if cfg.Loop.HistoryCapacity <= 0 {
		cfg.Loop.HistoryCapacity = 100
	}

	s := &cfg.Safety
	if s.MaxConsecutiveFailures <= 0 {
		s.MaxConsecutiveFailures = 5
	}
	if s.MaxRetriesPerIssue <= 0 {
		s.MaxRetriesPerIssue = 3
	}
	if s.RegressionRateThreshold <= 0 {
		s.RegressionRateThreshold = 0.5
	}
	if s.ComponentFailureWindow <= 0 {
		s.ComponentFailureWindow = 5
	}
	if s.ComponentFailureRateThreshold <= 0 {
		s.ComponentFailureRateThreshold = 0.6
	}
	if s.MemoryCeilingMB <= 0 {
		s.MemoryCeilingMB = 1024
	}
	if s.MaxFilesPerIteration <= 0 {
		s.MaxFilesPerIteration = 10
	}
	if s.StabilityWindow <= 0 {
		s.StabilityWindow = 5
	}
	if s.CriticalFileConfidence <= 0 {
		s.CriticalFileConfidence = 85
	}
	if len(s.DenyPatterns) == 0 {
		s.DenyPatterns = []string{
			`rm\s+-rf`,
			`DROP\s+TABLE`,
			`localStorage\.clear\(\)`,
			`document\.body\.innerHTML\s*=`,
			`while\s*\(\s*true\s*\)`,
		}
	}
	if s.StopMarker == "" {
		s.StopMarker = ".fixloop-stop"
	}
	if s.MarkerPollInterval == "" {
		s.MarkerPollInterval = "2s"
	}

	if cfg.Checkpoints.Dir == "" {
		cfg.Checkpoints.Dir = filepath.Join(".fixloop", "checkpoints")
	}
	if cfg.Checkpoints.MaxCount <= 0 {
		cfg.Checkpoints.MaxCount = 10
	}
	if len(cfg.Checkpoints.Ignore) == 0 {
		cfg.Checkpoints.Ignore = []string{"node_modules", ".git", ".fixloop", "*.log"}
	}

	if cfg.State.Dir == "" {
		cfg.State.Dir = filepath.Join(".fixloop", "state")
	}
	if cfg.State.MaxBackups <= 0 {
		cfg.State.MaxBackups = 5
	}

	if cfg.Validation.StageTimeout == "" {
		cfg.Validation.StageTimeout = "2m"
	}

	if cfg.Detector.Mode == "" {
		if cfg.Detector.URL != "" {
			cfg.Detector.Mode = "http"
		} else {
			cfg.Detector.Mode = "command"
		}
	}
	if cfg.Detector.Timeout == "" {
		cfg.Detector.Timeout = "2m"
	}

	if cfg.Generator.Timeout == "" {
		cfg.Generator.Timeout = "60s"
	}
	if cfg.Generator.RetryCount < 0 {
		cfg.Generator.RetryCount = 0
	} else if cfg.Generator.RetryCount == 0 {
		cfg.Generator.RetryCount = 2
	}

	if cfg.EventLog.Path == "" {
		cfg.EventLog.Path = filepath.Join(".fixloop", "events.db")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
