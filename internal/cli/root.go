package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fixloop",
	Short: "fixloop — closed-loop automated error remediation",
	Long: `fixloop runs a detect → rank → fix → validate → apply cycle against a
managed codebase until the error count converges or a safety guard stops it.

Every apply is preceded by a checkpoint and gated by a staged validation
pipeline; loop progress is persisted crash-safely under .fixloop/ so an
interrupted run can be resumed.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to fixloop.yaml (default: ./fixloop.yaml, ~/.fixloop/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(versionCmd)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
