package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reoring/statefile/internal/wire"
	"github.com/reoring/statefile/store"
)

var (
	inspectOutput string
	inspectBackup string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the state document",
	Long: `Print the state file, or one of its backups, as JSON or YAML.

Examples:
  statefile inspect
  statefile inspect -o yaml
  statefile inspect --backup state-20240101T000000.000000000Z.json`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "json", "output format: json or yaml")
	inspectCmd.Flags().StringVar(&inspectBackup, "backup", "", "show this backup instead of the live file")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectOutput != "json" && inspectOutput != "yaml" {
		return fmt.Errorf("unknown output format %q", inspectOutput)
	}
	ctx := cmd.Context()
	e, err := open(ctx, cmd, store.ReadOnly())
	if err != nil {
		return err
	}
	defer e.Close()

	if inspectBackup != "" {
		if err := e.store.Restore(ctx, inspectBackup); err != nil {
			return err
		}
	}
	doc := *e.store.Data()

	out := cmd.OutOrStdout()
	if inspectOutput == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	b, err := wire.Encode(doc)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
