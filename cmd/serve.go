package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"auditlog/config"
	"auditlog/handlers"
)

func serveCmd(load func() (config.Config, error)) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also consume the configured queue in this process")
	return cmd
}

func serve(parent context.Context, cfg config.Config, withWorker bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// wait for the engine and make sure the index exists
	err = retry(5, 2*time.Second, func() error {
		if err := a.client.Ping(ctx); err != nil {
			return err
		}
		_, err := a.service.CreateIndex(ctx)
		return err
	})
	if err != nil {
		slog.Error("failed to ensure audit index exists", "error", err)
		return err
	}
	slog.Info("search client initialized and index is ready", "index", a.service.IndexName())

	var wg sync.WaitGroup
	if withWorker {
		if err := a.startWorker(ctx, &wg); err != nil {
			return err
		}
	}

	e := newServer(a)

	startErr := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.App.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startErr <- err
		}
	}()
	slog.Info("server started", "port", cfg.App.Port)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		slog.Info("shutting down server...")
	case err := <-startErr:
		slog.Error("shutting down the server", "error", err)
		runErr = fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	cancel()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	slog.Info("server gracefully stopped")
	return nil
}

func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", handlers.HealthCheck)
	e.GET("/readyz", handlers.Readiness(a.client))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	handlers.NewAuditHandler(a.service).Register(e.Group("/audits"))
	return e
}
