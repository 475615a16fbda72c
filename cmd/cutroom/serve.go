package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/api"
	"github.com/cutroom/backend/internal/config"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ctx.cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.storage.Lock(); err != nil {
		return err
	}
	if n, err := a.storage.ClearTemp(); err != nil {
		logger.Warn("Failed to clear stale temp files", zap.Error(err))
	} else if n > 0 {
		logger.Info("Removed stale temp files", zap.Int("count", n))
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Storage.AutoCleanup {
		go runCleanup(ctx, a, logger)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(a.services, a.orch, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Operations still running at exit", zap.Error(err), zap.Strings("pipelines", a.engine.Running()))
		a.engine.CancelAll()
	}
	return nil
}

// runCleanup applies the retention policy once a day until ctx ends.
func runCleanup(ctx context.Context, a *app, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if err := a.services.Operation.Cleanup(ctx, a.cfg.CleanupAge()); err != nil {
			logger.Warn("Scheduled cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
