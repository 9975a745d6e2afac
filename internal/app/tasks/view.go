// Package tasks composes a list synchronizer, the date projector and the
// accordion into the personal todo view and the shared list item view.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/grouping"
	"github.com/tasklists/project/internal/listsync"
	"github.com/tasklists/project/internal/model"
	"github.com/tasklists/project/internal/platform/metrics"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrTaskNotFound  = errors.New("task not found")
)

// Task is a record that can be listed, grouped and completed.
type Task[T any] interface {
	listsync.Record
	grouping.Dated
	Completed() bool
	Label() string
	WithCompleted(done bool) T
	NewRow() backend.Row
	Patch() backend.Row
}

type Option func(*options)

type options struct {
	metrics *metrics.Sync
	logger  *slog.Logger
}

func WithMetrics(m *metrics.Sync) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type View[T Task[T]] struct {
	name    string
	loc     *time.Location
	sync    *listsync.Synchronizer[T]
	newTask func(title string) T

	mu           sync.Mutex
	accordion    grouping.Accordion
	listeners    map[int]func()
	nextListener int
}

// NewPersonal lists the todos of userID, newest first.
func NewPersonal(store backend.Store, realtime backend.Realtime, userID string, loc *time.Location, opts ...Option) *View[model.Todo] {
	o := collect(opts)
	src := &listsync.TableSource[model.Todo]{
		Store:    store,
		Realtime: realtime,
		Logger:   o.logger,
		Table:    backend.TableTodos,
		Scope:    backend.Filter{backend.Eq("user_id", userID)},
		Order:    []backend.Order{{Column: "created_at", Descending: true}},
		NewRow:   model.Todo.NewRow,
		Patch:    model.Todo.Patch,
	}
	return newView(backend.TableTodos, loc, src, true, o, func(title string) model.Todo {
		return model.Todo{UserID: userID, Title: title}
	})
}

// NewSharedItems lists the items of one shared list, oldest first.
func NewSharedItems(store backend.Store, realtime backend.Realtime, listID string, loc *time.Location, opts ...Option) *View[model.ListItem] {
	o := collect(opts)
	src := &listsync.TableSource[model.ListItem]{
		Store:    store,
		Realtime: realtime,
		Logger:   o.logger,
		Table:    backend.TableListItems,
		Scope:    backend.Filter{backend.Eq("shared_todo_id", listID)},
		Order:    []backend.Order{{Column: "created_at"}},
		NewRow:   model.ListItem.NewRow,
		Patch:    model.ListItem.Patch,
	}
	return newView(backend.TableListItems, loc, src, false, o, func(title string) model.ListItem {
		return model.ListItem{ListID: listID, Title: title}
	})
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newView[T Task[T]](name string, loc *time.Location, src listsync.Source[T], descending bool, o options, newTask func(string) T) *View[T] {
	if loc == nil {
		loc = time.Local
	}
	return &View[T]{
		name:      name,
		loc:       loc,
		newTask:   newTask,
		listeners: map[int]func(){},
		sync: listsync.New(src, listsync.Options{
			Name:       name,
			Descending: descending,
			Metrics:    o.metrics,
		}),
	}
}

// Mount loads the list and starts following change events.
func (v *View[T]) Mount(ctx context.Context) error {
	if err := v.sync.Watch(ctx); err != nil {
		return err
	}
	if err := v.sync.Load(ctx); err != nil {
		_ = v.sync.Close()
		return err
	}
	return nil
}

func (v *View[T]) Reload(ctx context.Context) error {
	return v.sync.Load(ctx)
}

func (v *View[T]) Close() error {
	return v.sync.Close()
}

func (v *View[T]) Add(ctx context.Context, title string) (T, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		var zero T
		return zero, ErrTitleRequired
	}
	return v.sync.Insert(ctx, v.newTask(title))
}

// Toggle flips completion optimistically; the flip is reverted when the
// store rejects it.
func (v *View[T]) Toggle(ctx context.Context, id string) (T, error) {
	next, err := v.sync.Update(ctx, id, func(cur T) T {
		return cur.WithCompleted(!cur.Completed())
	})
	if errors.Is(err, listsync.ErrNotFound) {
		return next, ErrTaskNotFound
	}
	return next, err
}

func (v *View[T]) Delete(ctx context.Context, id string) error {
	if _, ok := v.sync.Get(id); !ok {
		return ErrTaskNotFound
	}
	return v.sync.Remove(ctx, id)
}

// ToggleGroup opens or closes one date group and returns the open label.
func (v *View[T]) ToggleGroup(label string) string {
	v.mu.Lock()
	open := v.accordion.Toggle(label)
	fns := make([]func(), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return open
}

func (v *View[T]) Items() []T {
	return v.sync.Snapshot()
}

func (v *View[T]) State() listsync.State {
	return v.sync.State()
}

// OnChange registers fn for list changes and group toggles.
func (v *View[T]) OnChange(fn func()) func() {
	cancelSync := v.sync.OnChange(fn)

	v.mu.Lock()
	id := v.nextListener
	v.nextListener++
	v.listeners[id] = fn
	v.mu.Unlock()

	return func() {
		cancelSync()
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

// Entry is a task as presented to users.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"is_complete"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	Label   string  `json:"label"`
	Open    bool    `json:"open"`
	Entries []Entry `json:"entries"`
}

// Board is the grouped projection of a view.
type Board struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
	Total     int     `json:"total"`
	Remaining int     `json:"remaining"`
	Groups    []Group `json:"groups"`
}

func (v *View[T]) Board() Board {
	items := v.sync.Snapshot()
	groups := grouping.ByDate(items, v.loc)

	v.mu.Lock()
	open := v.accordion.Sync(groups.Labels, grouping.DefaultOpen(items, v.loc))
	v.mu.Unlock()

	b := Board{
		Name:   v.name,
		State:  v.sync.State().String(),
		Total:  len(items),
		Groups: make([]Group, 0, len(groups.Labels)),
	}
	if err := v.sync.Err(); err != nil && v.sync.State() == listsync.StateError {
		b.Error = err.Error()
	}
	for _, label := range groups.Labels {
		g := Group{Label: label, Open: label == open}
		for _, item := range groups.ByLabel[label] {
			if !item.Completed() {
				b.Remaining++
			}
			g.Entries = append(g.Entries, entryOf(item))
		}
		b.Groups = append(b.Groups, g)
	}
	return b
}
