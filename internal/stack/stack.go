// Package stack opens the configured backend: an in-memory store, a local
// SQLite file, or Postgres with NATS JetStream change events.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/backend/memory"
	"github.com/tasklists/project/internal/backend/natsfeed"
	"github.com/tasklists/project/internal/backend/postgres"
	"github.com/tasklists/project/internal/backend/sqlite"
	"github.com/tasklists/project/internal/platform/config"
	"github.com/tasklists/project/internal/platform/dbpool"
	"github.com/tasklists/project/internal/platform/natsutil"
)

type Stack struct {
	Store    backend.Store
	Realtime backend.Realtime

	ready   func(ctx context.Context) error
	closers []func() error
}

// Ready checks every connection the stack holds.
func (s *Stack) Ready(ctx context.Context) error {
	if s.ready == nil {
		return nil
	}
	return s.ready(ctx)
}

// Close releases connections in reverse opening order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Open connects the backend named by cfg.Backend. name identifies the
// process on the NATS connection.
func Open(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendMemory:
		store := memory.New()
		return &Stack{Store: store, Realtime: store}, nil
	case config.BackendSQLite:
		return openSQLite(cfg.SQLitePath)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, name, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openSQLite(path string) (*Stack, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return &Stack{
		Store:    store,
		Realtime: store,
		ready:    store.Ping,
		closers:  []func() error{store.Close},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*Stack, error) {
	pool, err := dbpool.New(ctx, cfg.DatabaseURL, dbpool.Options{
		MinConns:          cfg.DBMinConns,
		MaxConns:          cfg.DBMaxConns,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	})
	if err != nil {
		return nil, err
	}
	s := &Stack{closers: []func() error{func() error { pool.Close(); return nil }}}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATSURL, name, cfg.NATSConnectTimeout)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() error { client.Close(); return nil })

	store := postgres.New(pool, natsutil.JetStreamPublisher{JS: client.JS}, logger)
	if err := dbpool.Retry(ctx, 30*time.Second, "postgres schema", store.EnsureSchema); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.Store = store
	s.Realtime = natsfeed.New(client.JS, logger)
	s.ready = func(ctx context.Context) error {
		if err := client.Ready(); err != nil {
			return err
		}
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		return nil
	}
	return s, nil
}
