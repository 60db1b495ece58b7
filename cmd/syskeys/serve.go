package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/syskeys/internal/adapter/driving/http"
	"github.com/ericfisherdev/syskeys/internal/application"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, maintenance sweeps and cache invalidation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("config loaded",
		"environment", cfg.Environment,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"cache_ttl", cfg.CacheTTL,
		"store_enabled", a.store != nil,
		"redis_enabled", a.bus != nil,
		"admin_api_enabled", cfg.AdminToken != "",
	)

	// Maintenance sweeps report expired and due keys.
	if a.store != nil {
		maintenance := application.NewMaintenanceService(a.store, a.metrics, logger)
		if err := maintenance.Start(ctx, cfg.MaintenanceSchedule); err != nil {
			return err
		}
		go func() {
			if err := maintenance.Sweep(ctx); err != nil {
				logger.Error("initial maintenance sweep failed", "error", err)
			}
		}()
	}

	// Changes made by other instances drop local cache entries.
	if a.bus != nil {
		go a.bus.Subscribe(ctx, a.cache)
	}

	handler := httphandler.NewHandler(a.store, a.cache, a.audit, logger)
	mux := httphandler.NewServeMux(handler, logger,
		httphandler.WithAdminToken(cfg.AdminToken),
		httphandler.WithMetrics(a.metrics),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
