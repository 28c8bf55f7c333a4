package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/config"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/loop"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/safety"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a fresh fix loop against the target directory",
	Long: `Runs the full remediation loop from iteration 1: detect issues, rank
them, request fixes, validate each fix through the staged pipeline, and
apply the ones that pass. Stops on convergence, iteration/time budget,
or a safety guard.

Interrupting with SIGINT/SIGTERM persists a resumable state; continue
with 'fixloop resume'. Placing the configured stop-marker file triggers
an emergency stop at the next safe point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		return driveLoop(cmd, a, func(ctx context.Context) (*loop.FinalReport, error) {
			return a.controller.Run(ctx)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted fix loop from its persisted state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		return driveLoop(cmd, a, func(ctx context.Context) (*loop.FinalReport, error) {
			return a.controller.Resume(ctx)
		})
	},
}

// driveLoop runs the controller under signal cancellation and the
// stop-marker watcher, then renders the final report. A run that did
// not end in success exits non-zero.
func driveLoop(cmd *cobra.Command, a *app, start func(context.Context) (*loop.FinalReport, error)) error {
	ctx, cancel := safety.SignalContext(cmd.Context())
	defer cancel()

	go a.guard.WatchStopMarker(ctx, a.cfg.Safety.StopMarker, config.Duration(a.cfg.Safety.MarkerPollInterval, 0))

	report, err := start(ctx)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		printReport(cmd, report)
	}

	switch report.Status {
	case state.StatusSuccess:
		return nil
	case state.StatusInterrupted:
		return fmt.Errorf("loop interrupted after iteration %d; resume with 'fixloop resume'", report.Iterations)
	default:
		return fmt.Errorf("loop stopped without convergence: %s", report.StopReason)
	}
}

func printReport(cmd *cobra.Command, report *loop.FinalReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Status:      %s\n", report.Status)
	fmt.Fprintf(w, "Iterations:  %d\n", report.Iterations)
	fmt.Fprintf(w, "Errors:      %d at last detection\n", report.TotalErrors)
	fmt.Fprintf(w, "Fixes:       %d applied, %d failed, %d skipped\n", report.FixedErrors, report.FailedFixes, report.SkippedFixes)
	if report.Converged {
		fmt.Fprintf(w, "Converged:   %s (confidence %d)\n", report.ConvergenceReason, report.Confidence)
	} else if report.StopReason != "" {
		fmt.Fprintf(w, "Stopped:     %s\n", report.StopReason)
	}
	fmt.Fprintf(w, "Duration:    %s\n", report.Duration.Round(time.Second))
}

func init() {
	runCmd.Flags().String("format", "text", "Output format: text or json")
	resumeCmd.Flags().String("format", "text", "Output format: text or json")
}
