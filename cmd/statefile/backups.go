package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reoring/statefile/store"
)

var backupsKeep int

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List and prune backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all but the most recent backups",
	Long: `Remove all but the most recent backups.

Without --keep the configured state.backup_count is used.`,
	Args: cobra.NoArgs,
	RunE: runBackupsPrune,
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)

	backupsPruneCmd.Flags().IntVar(&backupsKeep, "keep", -1, "number of backups to keep")
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	e, err := open(cmd.Context(), cmd, store.ReadOnly())
	if err != nil {
		return err
	}
	defer e.Close()

	bs, err := e.store.Backups()
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No backups in %s\n", e.store.BackupDir())
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIME\tSIZE")
	for _, b := range bs {
		fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, b.Time.Format(time.RFC3339), b.Size)
	}
	return w.Flush()
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	e, err := open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	keep := backupsKeep
	if keep < 0 {
		keep = e.cfg.State.BackupCount
	}
	n, err := e.store.Prune(keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s), kept at most %d\n", n, keep)
	return nil
}
