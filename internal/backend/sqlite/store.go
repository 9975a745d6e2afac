// Package sqlite implements the table store on a local SQLite file for
// single-user mode. Change events are delivered through an in-process hub.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/backend/sqlbuild"
)

// timeLayout keeps stored timestamps fixed-width so text ordering matches
// chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	boolColumns = map[string]bool{"is_complete": true, "is_read": true}
	timeColumns = map[string]bool{"created_at": true, "expires_at": true, "revoked_at": true}
)

var _ backend.Store = (*Store)(nil)

type Store struct {
	Hub   *backend.Hub
	Now   func() time.Time
	NewID func() string

	db  *sqlx.DB
	sql sqlbuild.Builder
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		Hub:   backend.NewHub(),
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
		db:    db,
		sql: sqlbuild.Builder{
			Placeholder: sqlbuild.Question,
			ILike:       "LIKE",
			Value:       toDriver,
		},
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	current := 0
	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
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
	rows, err := s.db.QueryxContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return scanRows(rows)
}

func (s *Store) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	def, err := backend.Lookup(table)
	if err != nil {
		return nil, err
	}
	now := s.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	out := make([]backend.Row, 0, len(rows))
	for _, row := range rows {
		stamped := backend.Stamp(row, s.NewID, now)
		if err := def.CheckColumns(keys(stamped)...); err != nil {
			return nil, err
		}
		st := s.sql.Insert(table, stamped)
		res, err := tx.QueryxContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, mapErr("insert", table, err)
		}
		inserted, err := scanRows(res)
		if err != nil {
			return nil, mapErr("insert", table, err)
		}
		out = append(out, inserted...)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr("insert", table, err)
	}

	for _, row := range out {
		s.Hub.Publish(backend.ChangeEvent{Kind: backend.ChangeCreated, Table: table, New: row.Clone(), CommitTime: now})
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
	res, err := s.db.QueryxContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return mapErr("update", table, err)
	}
	updated, err := scanRows(res)
	if err != nil {
		return mapErr("update", table, err)
	}

	now := s.Now()
	for _, row := range updated {
		s.Hub.Publish(backend.ChangeEvent{
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
	res, err := s.db.QueryxContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return mapErr("delete", table, err)
	}
	deleted, err := scanRows(res)
	if err != nil {
		return mapErr("delete", table, err)
	}

	now := s.Now()
	for _, row := range deleted {
		s.Hub.Publish(backend.ChangeEvent{Kind: backend.ChangeDeleted, Table: table, Old: row, CommitTime: now})
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table string, filter backend.Filter, handler backend.Handler) (backend.Subscription, error) {
	return s.Hub.Subscribe(ctx, table, filter, handler)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanRows(rows *sqlx.Rows) ([]backend.Row, error) {
	defer rows.Close()
	out := make([]backend.Row, 0)
	for rows.Next() {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row, err := fromDriver(m)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// fromDriver restores the Go types SQLite stores as integers and text.
func fromDriver(m map[string]any) (backend.Row, error) {
	row := make(backend.Row, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		switch {
		case boolColumns[k]:
			if n, ok := v.(int64); ok {
				v = n != 0
			}
		case timeColumns[k]:
			if s, ok := v.(string); ok {
				t, err := time.Parse(timeLayout, s)
				if err != nil {
					return nil, fmt.Errorf("parsing %s: %w", k, err)
				}
				v = t
			}
		}
		row[k] = v
	}
	return row, nil
}

func toDriver(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(timeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(timeLayout)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

func mapErr(op, table string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
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
