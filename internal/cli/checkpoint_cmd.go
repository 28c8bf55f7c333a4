package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage codebase checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newCheckpointManager()
		if err != nil {
			return err
		}
		metas, err := m.List()
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, metas)
		}
		if len(metas) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No checkpoints found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tFILES\tSIZE\tDESCRIPTION")
		for _, meta := range metas {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				meta.ID, meta.Timestamp.Format("2006-01-02 15:04:05"), meta.FileCount, meta.TotalSize, meta.Description)
		}
		return w.Flush()
	},
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the target directory now",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newCheckpointManager()
		if err != nil {
			return err
		}
		desc, _ := cmd.Flags().GetString("description")
		id, err := m.Create(checkpoint.CreateOpts{Description: desc})
		if err != nil {
			return err
		}
		if err := m.Prune(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created checkpoint %s\n", id)
		return nil
	},
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Restore the target directory from a checkpoint",
	Long: `Restores the target directory to the checkpoint's recorded state,
including deletion of files created after the snapshot. A safety
checkpoint of the current state is taken first unless --dry-run.

--dry-run prints the restore plan without touching any file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newCheckpointManager()
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		res, err := m.Restore(args[0], checkpoint.RestoreOpts{DryRun: dryRun, Force: force})
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, res)
		}

		w := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprintf(w, "Plan for rollback to %s (dry run):\n", res.CheckpointID)
		} else {
			fmt.Fprintf(w, "Rolled back to %s (%d files verified)\n", res.CheckpointID, res.VerifiedFiles)
			if res.SafetyCheckpoint != "" {
				fmt.Fprintf(w, "Safety checkpoint: %s\n", res.SafetyCheckpoint)
			}
		}
		fmt.Fprintf(w, "  overwrite %d, create %d, delete %d\n",
			len(res.Plan.Overwrite), len(res.Plan.Create), len(res.Plan.Delete))
		for _, f := range res.Plan.Delete {
			fmt.Fprintf(w, "  delete %s\n", f)
		}
		return nil
	},
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete checkpoints beyond the configured retention count",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cfg, err := newCheckpointManager()
		if err != nil {
			return err
		}
		if err := m.Prune(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned to at most %d checkpoints\n", cfg.Checkpoints.MaxCount)
		return nil
	},
}

func init() {
	checkpointListCmd.Flags().String("format", "text", "Output format: text or json")
	checkpointCreateCmd.Flags().String("description", "manual checkpoint", "Checkpoint description")
	checkpointRollbackCmd.Flags().Bool("dry-run", false, "Print the restore plan without executing it")
	checkpointRollbackCmd.Flags().Bool("force", false, "Restore even if the checkpoint fails its integrity check")
	checkpointRollbackCmd.Flags().String("format", "text", "Output format: text or json")
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointRollbackCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)
}
