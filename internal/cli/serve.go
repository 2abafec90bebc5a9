package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duynguyendang/lexa/pkg/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket progress stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.NewServer(a.pipeline, a.bus, server.Config{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MaxUploadSize:  cfg.Pipeline.MaxUploadSize,
				SessionMaxAge:  cfg.Pipeline.SessionMaxAge,
				UploadLimit:    server.Limit{Requests: cfg.Limits.Upload, Window: cfg.Limits.UploadWindow},
				AnalysisLimit:  server.Limit{Requests: cfg.Limits.Analysis, Window: cfg.Limits.AnalysisWindow},
				APILimit:       server.Limit{Requests: cfg.Limits.API, Window: cfg.Limits.APIWindow},
			}, server.WithLogger(logger), server.WithMetrics(a.metrics))

			httpSrv := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("starting API server",
					zap.String("address", cfg.Server.Address),
					zap.String("model", cfg.AI.Model),
					zap.String("sessions", cfg.Session.Backend),
					zap.String("storage", cfg.Storage.Backend))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				a.pipeline.RunJanitor(gctx)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
				defer cancel()
				err := httpSrv.Shutdown(shutdownCtx)
				if perr := a.pipeline.Shutdown(shutdownCtx); perr != nil {
					logger.Warn("pipeline did not drain in time", zap.Error(perr))
				}
				return err
			})

			err = g.Wait()
			logger.Info("API server stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides LEXA_ADDRESS")
	return cmd
}
