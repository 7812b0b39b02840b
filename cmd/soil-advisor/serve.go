package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agsys/soil-advisor/internal/api"
)

func (c *cli) newServeCmd() *cobra.Command {
	var port int
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the advisor service: HTTP API, background sync and cloud link",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if port == 0 {
				port = c.cfg.Server.Port
			}
			return a.serve(ctx, port, api.Options{AllowedOrigins: origins})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Server port (default from config)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "Allowed CORS origins (default any)")
	return cmd
}

// serve runs the engine, cloud link and HTTP API until ctx is done
func (a *app) serve(ctx context.Context, port int, opts api.Options) error {
	if err := a.engine.Start(ctx); err != nil {
		return eris.Wrap(err, "start engine")
	}
	defer a.engine.Stop()

	if a.client != nil {
		if err := a.client.Start(ctx); err != nil {
			return eris.Wrap(err, "start cloud link")
		}
		defer a.client.Stop()
	}

	srv := api.NewServer(port, a.engine, opts)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}

	zap.L().Info("shutdown complete")
	return nil
}
