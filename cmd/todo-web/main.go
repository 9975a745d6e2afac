package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tasklists/project/internal/app/identity"
	"github.com/tasklists/project/internal/app/web"
	"github.com/tasklists/project/internal/platform/config"
	"github.com/tasklists/project/internal/platform/logging"
	"github.com/tasklists/project/internal/platform/metrics"
	"github.com/tasklists/project/internal/stack"
)

func main() {
	configPath := flag.String("config", os.Getenv("TASKLISTS_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("todo-web stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := stack.Open(runCtx, cfg, "todo-web", logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := metrics.NewRegistry()
	syncMetrics := metrics.NewSync(registry)

	identitySvc := identity.NewService(
		identity.NewStoreRepository(st.Store),
		identity.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
	)
	identitySvc.RefreshTTL = cfg.RefreshTokenTTL

	handler := web.NewHandler(identitySvc, st.Store, st.Realtime, loc, logger)
	handler.Metrics = syncMetrics
	handler.Shared.Metrics = syncMetrics
	handler.MetricsHandler = metrics.Handler(registry)
	handler.Ready = st.Ready
	handler.AllowedOrigin = os.Getenv("TASKLISTS_UI_ORIGIN")
	handler.SetViewIdleTimeout(cfg.ViewIdleTimeout)
	defer handler.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays unset for long-lived event streams.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("todo-web listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
	}
	return nil
}
