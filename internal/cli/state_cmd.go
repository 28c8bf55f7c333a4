package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the persisted loop state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved state record as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStateStore()
		if err != nil {
			return err
		}
		saved, err := store.Load()
		if errors.Is(err, state.ErrNoState) {
			fmt.Fprintln(cmd.OutOrStdout(), "No loop state found.")
			return nil
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd, saved)
	},
}

var stateVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check integrity of the state file and all backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStateStore()
		if err != nil {
			return err
		}
		report, err := store.Verify()
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, report)
		}

		w := cmd.OutOrStdout()
		if report.StateValid {
			fmt.Fprintln(w, "State file OK")
		} else {
			fmt.Fprintf(w, "State file invalid: %s\n", report.StateError)
		}
		fmt.Fprintf(w, "Backups: %d of %d valid\n", report.ValidBackups, report.TotalBackups)
		for _, p := range report.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
		if !report.StateValid && report.ValidBackups == 0 && report.StateError != "" {
			return fmt.Errorf("state unrecoverable: no valid backup")
		}
		return nil
	},
}

func newStateStore() (*state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return state.NewStore(cfg.State.Dir, cfg.State.MaxBackups)
}

func init() {
	stateVerifyCmd.Flags().String("format", "text", "Output format: text or json")
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateVerifyCmd)
}
