package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/tasklists/project/internal/app/collab"
	"github.com/tasklists/project/internal/app/identity"
	"github.com/tasklists/project/internal/app/shared"
	"github.com/tasklists/project/internal/platform/config"
	"github.com/tasklists/project/internal/platform/logging"
	"github.com/tasklists/project/internal/session"
	"github.com/tasklists/project/internal/stack"
)

type globalOptions struct {
	configPath string
	timeout    time.Duration
}

// app is everything a command needs, opened once per invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	loc      *time.Location
	stack    *stack.Stack
	identity *identity.Service
	sessions *session.Provider
	shared   *shared.Service
	collab   *collab.Manager
	out      io.Writer

	store       *sessionStore
	stopPersist func()
}

// run opens the app, hands it to fn under the command timeout and closes it
// again. A zero timeout leaves the context open until fn returns.
func run(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	a, err := openApp(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	st, err := stack.Open(ctx, cfg, "todo", logger)
	if err != nil {
		return nil, err
	}
	store, err := openSessionStore(cfg.KeyringService)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	identitySvc := identity.NewService(
		identity.NewStoreRepository(st.Store),
		identity.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
	)
	identitySvc.RefreshTTL = cfg.RefreshTokenTTL

	a := &app{
		cfg:      cfg,
		logger:   logger,
		loc:      loc,
		stack:    st,
		identity: identitySvc,
		sessions: session.NewProvider(identitySvc.Sessions()),
		shared:   shared.NewService(st.Store, st.Realtime, logger),
		collab:   collab.NewManager(st.Store),
		out:      out,
		store:    store,
	}

	if saved, err := store.Load(); err == nil {
		a.sessions.Restore(saved)
	} else if !errors.Is(err, session.ErrSignedOut) {
		logger.Warn("restore session", "err", err)
	}
	a.stopPersist = a.sessions.OnChange(a.persist)
	return a, nil
}

func (a *app) persist(s *session.Session) {
	var err error
	if s == nil {
		err = a.store.Clear()
	} else {
		err = a.store.Save(*s)
	}
	if err != nil {
		a.logger.Warn("persist session", "err", err)
	}
}

func (a *app) Close() {
	if a.stopPersist != nil {
		a.stopPersist()
	}
	if err := a.stack.Close(); err != nil {
		a.logger.Warn("close backend", "err", err)
	}
}

// user returns the signed-in session, refreshing it when the access token
// expired.
func (a *app) user(ctx context.Context) (*session.Session, error) {
	cur := a.sessions.Current()
	if cur == nil {
		return nil, fmt.Errorf("%w: run `todo login` first", session.ErrSignedOut)
	}
	if !cur.Expired(time.Now()) {
		return cur, nil
	}
	next, err := a.sessions.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("session expired, run `todo login`: %w", err)
	}
	return next, nil
}

// member checks that the signed-in user may open listID.
func (a *app) member(ctx context.Context, listID string) (*session.Session, error) {
	sess, err := a.user(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := a.shared.CanAccess(ctx, sess.UserID, listID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.ErrListNotFound
	}
	return sess, nil
}
