package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/reoring/statefile/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report changes made to the state file",
	Long: `Watch the state file and print a line whenever it is rewritten or removed.

When metrics are enabled in the config the Prometheus endpoint is served
on metrics.addr for as long as the command runs.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := open(ctx, cmd, store.ReadOnly())
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(e.cfg.Metrics.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: e.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			e.log.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := cmd.OutOrStdout()
	return e.store.Watch(ctx, func(ctx context.Context, c store.Change) {
		what := "changed"
		if c.Removed {
			what = "removed"
		}
		fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), what, c.Path)
	})
}
