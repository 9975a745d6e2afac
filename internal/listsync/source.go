package listsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tasklists/project/internal/backend"
)

var ErrEmptyResult = errors.New("store returned no rows")

// TableSource binds a synchronizer to one table of a backend.Store. Every
// mutation is additionally constrained by Scope, so a caller can only touch
// rows inside the scope it loaded.
type TableSource[T Record] struct {
	Store    backend.Store
	Realtime backend.Realtime
	Logger   *slog.Logger

	Table  string
	Scope  backend.Filter
	Order  []backend.Order
	NewRow func(T) backend.Row
	Patch  func(T) backend.Row
}

var (
	_ Source[Record] = (*TableSource[Record])(nil)
	_ Feed[Record]   = (*TableSource[Record])(nil)
)

func (s *TableSource[T]) Fetch(ctx context.Context) ([]T, error) {
	rows, err := s.Store.Select(ctx, s.Table, backend.Query{Filter: s.Scope, Order: s.Order})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[T](rows)
}

func (s *TableSource[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	rows, err := s.Store.Insert(ctx, s.Table, s.NewRow(rec))
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, ErrEmptyResult
	}
	var created T
	if err := backend.Decode(rows[0], &created); err != nil {
		return zero, err
	}
	return created, nil
}

func (s *TableSource[T]) Update(ctx context.Context, next T) error {
	return s.Store.Update(ctx, s.Table, s.Patch(next), s.byID(next.RecordID()))
}

func (s *TableSource[T]) Remove(ctx context.Context, id string) error {
	return s.Store.Delete(ctx, s.Table, s.byID(id))
}

func (s *TableSource[T]) Subscribe(ctx context.Context, fn func(Event[T])) (backend.Subscription, error) {
	if s.Realtime == nil {
		return nil, ErrNoRealtime
	}
	return s.Realtime.Subscribe(ctx, s.Table, s.Scope, func(ce backend.ChangeEvent) {
		ev, err := DecodeEvent[T](ce)
		if err != nil {
			s.logger().Warn("decode change event", "table", s.Table, "kind", ce.Kind, "err", err)
			return
		}
		fn(ev)
	})
}

func (s *TableSource[T]) byID(id string) backend.Filter {
	f := make(backend.Filter, 0, len(s.Scope)+1)
	f = append(f, backend.Eq("id", id))
	return append(f, s.Scope...)
}

func (s *TableSource[T]) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// DecodeEvent converts a raw change event into a typed one.
func DecodeEvent[T Record](ce backend.ChangeEvent) (Event[T], error) {
	ev := Event[T]{Kind: ce.Kind, ID: ce.Record().String("id")}
	if ev.ID == "" {
		ev.ID = ce.Old.String("id")
	}
	if ce.Kind == backend.ChangeDeleted {
		return ev, nil
	}
	if err := backend.Decode(ce.New, &ev.Record); err != nil {
		return Event[T]{}, err
	}
	return ev, nil
}
