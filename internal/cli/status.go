package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/db"
	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted loop state and recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		saved, err := a.store.Load()
		if errors.Is(err, state.ErrNoState) {
			fmt.Fprintln(cmd.OutOrStdout(), "No loop state found. Start one with 'fixloop run'.")
			return nil
		}
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, saved)
		}

		w := cmd.OutOrStdout()
		ls := saved.LoopState
		fmt.Fprintf(w, "Status:     %s\n", ls.Status)
		fmt.Fprintf(w, "Iteration:  %d\n", ls.Iteration)
		fmt.Fprintf(w, "Started:    %s\n", ls.StartTime.Format("2006-01-02 15:04:05"))
		if ls.EndTime != nil {
			fmt.Fprintf(w, "Ended:      %s\n", ls.EndTime.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "Fixes:      %d applied, %d failed, %d skipped\n", ls.FixedErrors, ls.FailedFixes, ls.SkippedFixes)
		if n := len(saved.History.ErrorHistory); n > 0 {
			latest := saved.History.ErrorHistory[n-1]
			fmt.Fprintf(w, "Errors:     %d at iteration %d\n", latest.ErrorCount, latest.Iteration)
		}

		if a.events != nil {
			limit, _ := cmd.Flags().GetInt("events")
			if limit > 0 {
				if err := printRecentEvents(cmd, a.events, limit); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func printRecentEvents(cmd *cobra.Command, events *db.DB, limit int) error {
	rows, err := events.RecentEvents(limit)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tITER\tEVENT\tDETAIL")
	for _, e := range rows {
		detail := e.Detail
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Timestamp, e.Iteration, e.Event, detail)
	}
	return w.Flush()
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	statusCmd.Flags().Int("events", 10, "Number of recent events to show (0 disables)")
}
