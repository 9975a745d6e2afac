// Package backend defines the table store and realtime contract every task
// list component talks to, plus the shared helpers its implementations use.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict     = errors.New("unique constraint violation")
	ErrUnknownTable = errors.New("unknown table")
	ErrUnknownField = errors.New("unknown column")
	ErrUnfiltered   = errors.New("update and delete require a filter")
	ErrEmptyPatch   = errors.New("update patch is empty")
)

// Row is one record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column value as a string, or "" when absent.
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return stringify(v)
}

type Order struct {
	Column     string
	Descending bool
}

type Query struct {
	Columns []string
	Filter  Filter
	Order   []Order
	Limit   int
}

type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)
	Update(ctx context.Context, table string, patch Row, filter Filter) error
	Delete(ctx context.Context, table string, filter Filter) error
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent describes one row mutation. Old carries at least the id for
// updates and the full row for deletions; New is empty for deletions.
type ChangeEvent struct {
	Kind       ChangeKind
	Table      string
	Old        Row
	New        Row
	CommitTime time.Time
}

// Record returns the row the event is about.
func (e ChangeEvent) Record() Row {
	if e.Kind == ChangeDeleted || e.New == nil {
		return e.Old
	}
	return e.New
}

type Handler func(ChangeEvent)

type Subscription interface {
	Unsubscribe() error
}

// Realtime delivers change events for rows matching a filter. Delivery is
// at-least-once and may be reordered.
type Realtime interface {
	Subscribe(ctx context.Context, table string, filter Filter, handler Handler) (Subscription, error)
}
