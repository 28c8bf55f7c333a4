package cli

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/checkpoint"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/config"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/converge"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/db"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/detect"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/generate"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/loop"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/prioritize"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/safety"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/validate"
)

// app is the fully wired loop plus everything commands need around it.
type app struct {
	cfg        *config.Config
	logger     hclog.Logger
	guard      *safety.Guard
	controller *loop.Controller
	store      *state.Store
	events     *db.DB
}

// loadConfig honors --config, else the default search path.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "fixloop",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		JSONFormat: cfg.Log.JSON,
	})
}

// newApp wires every collaborator from config. The returned cleanup
// closes what needs closing and is safe to call once.
func newApp() (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	store, err := state.NewStore(cfg.State.Dir, cfg.State.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	checkpoints, err := checkpoint.New(cfg.Loop.TargetDir, cfg.Checkpoints.Dir, cfg.Checkpoints.Ignore, cfg.Checkpoints.MaxCount, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	var events *db.DB
	if !cfg.EventLog.Disabled {
		events, err = db.Open(cfg.EventLog.Path)
		if err != nil {
			// The event log is best-effort; a broken one must not
			// keep the loop from running.
			logger.Warn("event log unavailable", "path", cfg.EventLog.Path, "error", err)
			events = nil
		}
	}
	cleanup := func() {
		if events != nil {
			_ = events.Close()
		}
	}

	guard := safety.NewGuard(safety.Config{
		MaxIterations:                 cfg.Loop.MaxIterations,
		MaxWallClock:                  config.Duration(cfg.Loop.MaxWallClock, 0),
		MaxConsecutiveFailures:        cfg.Safety.MaxConsecutiveFailures,
		MaxRetriesPerIssue:            cfg.Safety.MaxRetriesPerIssue,
		RegressionRateThreshold:       cfg.Safety.RegressionRateThreshold,
		ComponentFailureWindow:        cfg.Safety.ComponentFailureWindow,
		ComponentFailureRateThreshold: cfg.Safety.ComponentFailureRateThreshold,
		MemoryCeilingMB:               cfg.Safety.MemoryCeilingMB,
		MaxFilesPerIteration:          cfg.Safety.MaxFilesPerIteration,
		StabilityWindow:               cfg.Safety.StabilityWindow,
		MinConfidence:                 cfg.Loop.ConfidenceFloor,
		CriticalFiles:                 cfg.Safety.CriticalFiles,
		CriticalFileConfidence:        cfg.Safety.CriticalFileConfidence,
		DenyPatterns:                  cfg.Safety.DenyPatterns,
	}, logger)

	defaultTimeout := config.Duration(cfg.Validation.StageTimeout, 0)
	checkers := make(map[string]validate.Checker, len(cfg.Validation.Stages))
	for name, sc := range cfg.Validation.Stages {
		checkers[name] = &validate.CommandChecker{
			Stage:   name,
			Command: sc.Command,
			Dir:     cfg.Loop.TargetDir,
			Timeout: config.Duration(sc.Timeout, defaultTimeout),
			Logger:  logger,
		}
	}

	pipeline := validate.New(validate.Opts{
		TargetDir:   cfg.Loop.TargetDir,
		Checkers:    checkers,
		Checkpoints: checkpoints,
		Guard:       guard,
		Logger:      logger,
	})

	var detector detect.Detector
	switch cfg.Detector.Mode {
	case "http":
		detector = detect.NewHTTPDetector(cfg.Detector.URL, config.Duration(cfg.Detector.Timeout, 0), logger)
	default:
		detector = &detect.CommandDetector{
			Command: cfg.Detector.Command,
			Dir:     cfg.Loop.TargetDir,
			Timeout: config.Duration(cfg.Detector.Timeout, 0),
			Logger:  logger,
		}
	}

	generator := generate.NewClient(cfg.Generator.URL, config.Duration(cfg.Generator.Timeout, 0), cfg.Generator.RetryCount, logger)

	controller := loop.New(loop.Deps{
		Detector:    detector,
		Generator:   generator,
		Pipeline:    pipeline,
		Guard:       guard,
		Prioritizer: prioritize.New(cfg.Priority),
		Convergence: converge.New(cfg.Convergence),
		Store:       store,
		Events:      events,
		Logger:      logger,
	}, loop.Params{
		TargetDir:       cfg.Loop.TargetDir,
		Concurrency:     cfg.Loop.Concurrency,
		HistoryCapacity: cfg.Loop.HistoryCapacity,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		guard:      guard,
		controller: controller,
		store:      store,
		events:     events,
	}, cleanup, nil
}

// newCheckpointManager wires just the checkpoint store for the manual
// checkpoint commands, without the rest of the loop.
func newCheckpointManager() (*checkpoint.Manager, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	m, err := checkpoint.New(cfg.Loop.TargetDir, cfg.Checkpoints.Dir, cfg.Checkpoints.Ignore, cfg.Checkpoints.MaxCount, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}
