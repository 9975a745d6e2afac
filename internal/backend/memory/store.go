// Package memory is an in-process table store used by tests and demo mode.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"github.com/tasklists/project/internal/backend"
)

var _ backend.Store = (*Store)(nil)

type Store struct {
	Hub   *backend.Hub
	Now   func() time.Time
	NewID func() string

	mu     sync.RWMutex
	tables map[string][]backend.Row
}

func New() *Store {
	return &Store{
		Hub:    backend.NewHub(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  nuid.Next,
		tables: map[string][]backend.Row{},
	}
}

func (s *Store) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := backend.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := def.CheckQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]backend.Row, 0)
	for _, row := range s.tables[table] {
		if q.Filter.Match(row) {
			out = append(out, row.Clone())
		}
	}
	s.mu.RUnlock()

	backend.SortRows(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		out[i] = backend.Project(out[i], q.Columns)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := backend.Lookup(table)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	stamped := make([]backend.Row, 0, len(rows))
	for _, row := range rows {
		r := backend.Stamp(row, s.NewID, now)
		if err := def.CheckColumns(keys(r)...); err != nil {
			return nil, err
		}
		stamped = append(stamped, r)
	}

	s.mu.Lock()
	existing := s.tables[table]
	for i, r := range stamped {
		if conflict(def, append(existing, stamped[:i]...), r, "") {
			s.mu.Unlock()
			return nil, fmt.Errorf("insert %s: %w", table, backend.ErrConflict)
		}
	}
	for _, r := range stamped {
		s.tables[table] = append(s.tables[table], r.Clone())
	}
	s.mu.Unlock()

	out := make([]backend.Row, 0, len(stamped))
	for _, r := range stamped {
		s.Hub.Publish(backend.ChangeEvent{Kind: backend.ChangeCreated, Table: table, New: r.Clone(), CommitTime: now})
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, table string, patch backend.Row, filter backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

	now := s.Now()
	var events []backend.ChangeEvent

	s.mu.Lock()
	rows := s.tables[table]
	updated := make([]backend.Row, len(rows))
	for i, row := range rows {
		updated[i] = row
		if !filter.Match(row) {
			continue
		}
		next := row.Clone()
		for k, v := range patch {
			next[k] = v
		}
		if conflict(def, rows, next, row.String("id")) {
			s.mu.Unlock()
			return fmt.Errorf("update %s: %w", table, backend.ErrConflict)
		}
		updated[i] = next
		events = append(events, backend.ChangeEvent{
			Kind:       backend.ChangeUpdated,
			Table:      table,
			Old:        backend.Row{"id": row["id"]},
			New:        next.Clone(),
			CommitTime: now,
		})
	}
	s.tables[table] = updated
	s.mu.Unlock()

	for _, e := range events {
		s.Hub.Publish(e)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filter backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

	now := s.Now()
	var events []backend.ChangeEvent

	s.mu.Lock()
	kept := make([]backend.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		if filter.Match(row) {
			events = append(events, backend.ChangeEvent{Kind: backend.ChangeDeleted, Table: table, Old: row.Clone(), CommitTime: now})
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	s.mu.Unlock()

	for _, e := range events {
		s.Hub.Publish(e)
	}
	return nil
}

// Subscribe makes the store usable as its own backend.Realtime.
func (s *Store) Subscribe(ctx context.Context, table string, filter backend.Filter, handler backend.Handler) (backend.Subscription, error) {
	return s.Hub.Subscribe(ctx, table, filter, handler)
}

// Count returns the number of rows in table.
func (s *Store) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func conflict(def backend.Table, rows []backend.Row, candidate backend.Row, selfID string) bool {
	for _, key := range def.Unique {
		for _, row := range rows {
			if selfID != "" && row.String("id") == selfID {
				continue
			}
			same := true
			for _, column := range key {
				if row.String(column) != candidate.String(column) {
					same = false
					break
				}
			}
			if same {
				return true
			}
		}
	}
	return false
}

func keys(row backend.Row) []string {
	out := make([]string, 0, len(row))
	for k := range row {
		out = append(out, k)
	}
	return out
}
