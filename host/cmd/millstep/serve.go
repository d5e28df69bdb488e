package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"millstep/host/server"
	"millstep/standalone/config"
	"millstep/standalone/machine"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the machine over HTTP",
		Long: `Serve the machine over HTTP.

Endpoints (all POST, JSON bodies):
  /initialize   queue an initialization job
  /gcode        queue {"gcode": "..."} for execution
  /abort        kill the running job and rebuild the machine
  /get_logs     drain the buffered log entries
  /simulate     trace {"gcode": "..."} on a simulated machine`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := opts.logger()
			app, err := server.NewApp(func() (machine.Machine, error) {
				return config.Build(cfg, logger)
			},
				server.WithLogger(logger),
				server.WithSimulationFeedRates(cfg.DefaultFeedRate, cfg.RapidMoveFeedRate))
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.NewRouter(app),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			logger.Info("listening", "addr", addr, "backend", cfg.Backend)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
