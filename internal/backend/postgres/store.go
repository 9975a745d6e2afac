// Package postgres implements the table store on pgx and publishes every
// committed change to JetStream.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/backend/sqlbuild"
	"github.com/tasklists/project/internal/contracts"
	"github.com/tasklists/project/internal/platform/natsutil"
	"github.com/tasklists/project/internal/sharding"
)

const uniqueViolation = "23505"

var _ backend.Store = (*Store)(nil)

type Store struct {
	Pool      *pgxpool.Pool
	Publisher natsutil.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string

	sql sqlbuild.Builder
}

func New(pool *pgxpool.Pool, publisher natsutil.Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Pool:      pool,
		Publisher: publisher,
		Logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     nuid.Next,
		sql:       sqlbuild.Builder{Placeholder: sqlbuild.Dollar, ILike: "ILIKE"},
	}
}

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  email text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createProfilesSQL = `
CREATE TABLE IF NOT EXISTS profiles (
  id text PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
  email text NOT NULL,
  full_name text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createRefreshTokensSQL = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  id text PRIMARY KEY,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  revoked_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createTodosSQL = `
CREATE TABLE IF NOT EXISTS todos (
  id text PRIMARY KEY,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title text NOT NULL,
  is_complete boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createSharedTodosSQL = `
CREATE TABLE IF NOT EXISTS shared_todos (
  id text PRIMARY KEY,
  title text NOT NULL,
  owner_id text NOT NULL REFERENCES users(id),
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createSharedTodoItemsSQL = `
CREATE TABLE IF NOT EXISTS shared_todo_items (
  id text PRIMARY KEY,
  shared_todo_id text NOT NULL REFERENCES shared_todos(id),
  title text NOT NULL,
  is_complete boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCollaboratorsSQL = `
CREATE TABLE IF NOT EXISTS collaborators (
  id text PRIMARY KEY,
  shared_todo_id text NOT NULL REFERENCES shared_todos(id),
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  role text NOT NULL DEFAULT 'member',
  is_read boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now(),
  UNIQUE (shared_todo_id, user_id)
)`

const (
	createTodosIndexSQL         = `CREATE INDEX IF NOT EXISTS todos_user_created_idx ON todos (user_id, created_at)`
	createItemsIndexSQL         = `CREATE INDEX IF NOT EXISTS shared_todo_items_list_created_idx ON shared_todo_items (shared_todo_id, created_at)`
	createCollaboratorsIndexSQL = `CREATE INDEX IF NOT EXISTS collaborators_user_idx ON collaborators (user_id, created_at)`
)

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createUsersSQL,
		createProfilesSQL,
		createRefreshTokensSQL,
		createTodosSQL,
		createSharedTodosSQL,
		createSharedTodoItemsSQL,
		createCollaboratorsSQL,
		createTodosIndexSQL,
		createItemsIndexSQL,
		createCollaboratorsIndexSQL,
	} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	def, err := backend.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := def.CheckQuery(q); err != nil {
		return nil, err
	}
	st := s.sql.Select(table, q)
	rows, err := s.Pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return collect(rows)
}

func (s *Store) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	def, err := backend.Lookup(table)
	if err != nil {
		return nil, err
	}
	now := s.Now()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]backend.Row, 0, len(rows))
	for _, row := range rows {
		stamped := backend.Stamp(row, s.NewID, now)
		if err := def.CheckColumns(keys(stamped)...); err != nil {
			return nil, err
		}
		st := s.sql.Insert(table, stamped)
		res, err := tx.Query(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, mapErr("insert", table, err)
		}
		inserted, err := collect(res)
		if err != nil {
			return nil, mapErr("insert", table, err)
		}
		out = append(out, inserted...)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr("insert", table, err)
	}

	for _, row := range out {
		s.publish(def, backend.ChangeEvent{Kind: backend.ChangeCreated, Table: table, New: row, CommitTime: now})
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, table string, patch backend.Row, filter backend.Filter) error {
	def, err := backend.Lookup(table)
	if err != nil {
		return err
	}
	if len(filter) == 0 {
		return backend.ErrUnfiltered
	}
	if len(patch) == 0 {
		return backend.ErrEmptyPatch
	}
	if err := def.CheckColumns(keys(patch)...); err != nil {
		return err
	}
	if err := def.CheckColumns(filter.Columns()...); err != nil {
		return err
	}

	st := s.sql.Update(table, patch, filter)
	res, err := s.Pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return mapErr("update", table, err)
	}
	updated, err := collect(res)
	if err != nil {
		return mapErr("update", table, err)
	}

	now := s.Now()
	for _, row := range updated {
		s.publish(def, backend.ChangeEvent{
			Kind:       backend.ChangeUpdated,
			Table:      table,
			Old:        backend.Row{"id": row["id"]},
			New:        row,
			CommitTime: now,
		})
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filter backend.Filter) error {
	def, err := backend.Lookup(table)
	if err != nil {
		return err
	}
	if len(filter) == 0 {
		return backend.ErrUnfiltered
	}
	if err := def.CheckColumns(filter.Columns()...); err != nil {
		return err
	}

	st := s.sql.Delete(table, filter)
	res, err := s.Pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return mapErr("delete", table, err)
	}
	deleted, err := collect(res)
	if err != nil {
		return mapErr("delete", table, err)
	}

	now := s.Now()
	for _, row := range deleted {
		s.publish(def, backend.ChangeEvent{Kind: backend.ChangeDeleted, Table: table, Old: row, CommitTime: now})
	}
	return nil
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// publish runs after commit; failures are logged and not returned.
func (s *Store) publish(def backend.Table, event backend.ChangeEvent) {
	if s.Publisher == nil {
		return
	}
	scope := event.Record().String(def.ScopeColumn)
	payload, err := json.Marshal(contracts.ChangeEvent{
		EventID:    s.NewID(),
		Kind:       string(event.Kind),
		Table:      event.Table,
		Old:        event.Old,
		New:        event.New,
		CommitTime: event.CommitTime,
		ShardID:    sharding.GetShardID(scope),
	})
	if err != nil {
		s.Logger.Warn("encode change event", "table", event.Table, "err", err)
		return
	}
	if err := s.Publisher.Publish(sharding.ChangeSubject(event.Table, scope), payload); err != nil {
		s.Logger.Warn("publish change event", "table", event.Table, "kind", event.Kind, "err", err)
	}
}

func collect(rows pgx.Rows) ([]backend.Row, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]backend.Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, backend.Row(m))
	}
	return out, nil
}

func mapErr(op, table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", op, table, backend.ErrConflict)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func keys(row backend.Row) []string {
	out := make([]string, 0, len(row))
	for k := range row {
		out = append(out, k)
	}
	return out
}
