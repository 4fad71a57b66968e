package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/codec"
	"github.com/reoring/statefile/config"
	"github.com/reoring/statefile/metrics"
	"github.com/reoring/statefile/store"
)

var (
	// Global flags
	cfgFile   string
	statePath string
	backupDir string
	logLevel  string
)

// document is the untyped view of a state file: every value is kept as it
// appears on the wire, except nulls, which are dropped.
type document = map[string]any

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "statefile",
	Short: "Inspect and maintain JSON state files and their backups",
	Long: `statefile works on the JSON documents written by statefile stores.

The state file is taken from --state or from the config file
(state.path), falling back to STATEFILE_PATH.

Examples:
  statefile inspect --state data/state.json
  statefile backups list
  statefile backups prune --keep 3
  statefile restore state-20240101T000000.000000000Z.json
  statefile watch`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "statefile.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&statePath, "state", "s", "", "state file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "backup directory (default: backups next to the state file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
}

// loadConfig resolves the configuration from the config file, the
// environment and the global flags, in increasing precedence.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(cfgFile); err != nil && statePath != "" {
		cfg = config.Default(statePath)
	} else {
		c, err := config.LoadWithFallback(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if statePath != "" && cfg.State.Path != statePath {
		cfg.State.Path = statePath
		cfg.State.BackupDir = filepath.Join(filepath.Dir(statePath), "backups")
	}
	if backupDir != "" {
		cfg.State.BackupDir = backupDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// env is what every subcommand works with.
type env struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	store    *store.Store[document]
}

// open loads the configured state file as an untyped document. The caller
// must Close the returned env.
func open(ctx context.Context, cmd *cobra.Command, opts ...store.Option) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	reg := codec.NewRegistrar(statefile.WithLogger(log), statefile.WithMetrics(m))
	opts = append([]store.Option{store.WithLogger(log), store.WithMetrics(m), store.WithFileMode(cfg.State.Mode())}, opts...)
	st, err := store.Load[document](ctx, cfg.State.Path, cfg.State.BackupDir, reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.State.Path, err)
	}
	return &env{cfg: cfg, log: log, registry: registry, store: st}, nil
}

func (e *env) Close() error { return e.store.Close() }
