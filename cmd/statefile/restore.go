package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup>",
	Short: "Replace the state file with a backup",
	Long: `Replace the state file with the contents of a backup.

The current file is rotated into the backup directory first, so a restore
can itself be undone.

Examples:
  statefile backups list
  statefile restore state-20240101T000000.000000000Z.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.Restore(ctx, args[0]); err != nil {
		return err
	}
	if err := e.store.Save(ctx, e.cfg.State.BackupCount); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", e.store.Path(), args[0])
	return nil
}
