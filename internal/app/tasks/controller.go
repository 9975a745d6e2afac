package tasks

import (
	"context"

	"github.com/tasklists/project/internal/model"
)

// Controller is the record-type independent surface of a View, used by
// presentation layers that handle personal and shared views alike.
type Controller interface {
	Mount(ctx context.Context) error
	Reload(ctx context.Context) error
	Close() error
	AddEntry(ctx context.Context, title string) (Entry, error)
	ToggleEntry(ctx context.Context, id string) (Entry, error)
	Delete(ctx context.Context, id string) error
	ToggleGroup(label string) string
	Board() Board
	OnChange(fn func()) func()
}

var (
	_ Controller = (*View[model.Todo])(nil)
	_ Controller = (*View[model.ListItem])(nil)
)

func (v *View[T]) AddEntry(ctx context.Context, title string) (Entry, error) {
	rec, err := v.Add(ctx, title)
	if err != nil {
		return Entry{}, err
	}
	return entryOf(rec), nil
}

func (v *View[T]) ToggleEntry(ctx context.Context, id string) (Entry, error) {
	rec, err := v.Toggle(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return entryOf(rec), nil
}

func entryOf[T Task[T]](rec T) Entry {
	return Entry{
		ID:        rec.RecordID(),
		Title:     rec.Label(),
		Done:      rec.Completed(),
		CreatedAt: rec.Created(),
	}
}
