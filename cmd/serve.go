package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/build"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the development server with live reload",
		Long: `Start the development server. The project is built in memory and
rebuilt whenever a watched file changes; connected browsers reload once the
new generation is ready. While a build fails the previous generation keeps
being served and the error is shown in an overlay.

Examples:
  weft serve                   # Serve on localhost:8080
  weft serve -p 3000           # Serve on port 3000
  weft serve --write-to-disk   # Also write every generation to the output directory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "port to serve on")
	cmd.Flags().String("host", "localhost", "host to bind to")
	cmd.Flags().Bool("write-to-disk", false, "write every generation to the output directory")
	cmd.Flags().Bool("no-fallback", false, "disable the history API fallback document")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"server.port":          "port",
		"server.host":          "host",
		"server.write_to_disk": "write-to-disk",
	})
	return cmd
}

func runServe(cmd *cobra.Command, a *app) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	if noFallback, _ := cmd.Flags().GetBool("no-fallback"); noFallback {
		cfg.Server.HistoryAPIFallback = false
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		rec = metrics.NewPrometheusRecorder(nil)
	}

	engine, err := build.NewEngine(cfg, build.WithLogger(logger), build.WithMetrics(rec))
	if err != nil {
		return err
	}
	srv := server.New(cfg, engine, server.WithLogger(logger), server.WithMetrics(rec))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting weft dev server at http://%s\n", cfg.Addr())
	if err := srv.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
