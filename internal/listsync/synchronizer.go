// Package listsync keeps a local ordered copy of one scoped table query in
// step with the store: an initial fetch, incremental change events, and
// optimistic updates that roll back when the store rejects them.
package listsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/platform/metrics"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrNoRealtime = errors.New("source has no realtime feed")
)

type Record interface {
	RecordID() string
}

type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a decoded change event. Record is the zero value for deletions.
type Event[T Record] struct {
	Kind   backend.ChangeKind
	ID     string
	Record T
}

// Source performs the remote half of every operation.
type Source[T Record] interface {
	Fetch(ctx context.Context) ([]T, error)
	Create(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, next T) error
	Remove(ctx context.Context, id string) error
}

// Feed is implemented by sources that can stream change events. Subscribe
// returns ErrNoRealtime when the source was built without one.
type Feed[T Record] interface {
	Subscribe(ctx context.Context, fn func(Event[T])) (backend.Subscription, error)
}

type Options struct {
	// Name labels metrics, usually the table name.
	Name string
	// Descending places new records first instead of last.
	Descending bool
	Metrics    *metrics.Sync
}

type Synchronizer[T Record] struct {
	src  Source[T]
	opts Options

	mu      sync.Mutex
	items   []T
	state   State
	err     error
	gen     map[string]uint64
	pending []Event[T]

	listenerMu   sync.Mutex
	listeners    map[int]func()
	nextListener int

	watchMu     sync.Mutex
	sub         backend.Subscription
	cancelWatch context.CancelFunc
}

func New[T Record](src Source[T], opts Options) *Synchronizer[T] {
	return &Synchronizer[T]{
		src:       src,
		opts:      opts,
		gen:       map[string]uint64{},
		listeners: map[int]func(){},
	}
}

// Load replaces the local sequence with a fresh fetch. On failure the
// previous sequence is kept and the state becomes StateError. Events that
// arrive while the fetch is in flight are replayed on top of its result.
func (s *Synchronizer[T]) Load(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateLoading
	s.pending = s.pending[:0]
	s.mu.Unlock()
	s.notify()

	rows, err := s.src.Fetch(ctx)
	s.opts.Metrics.Observe(s.opts.Name, "load", err)

	s.mu.Lock()
	if err != nil {
		s.state = StateError
		s.err = err
		s.pending = nil
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.items = append([]T(nil), rows...)
	for _, ev := range s.pending {
		s.applyLocked(ev)
	}
	s.pending = nil
	s.state = StateReady
	s.err = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Insert creates rec remotely and adds the canonical record unless a change
// event already delivered it.
func (s *Synchronizer[T]) Insert(ctx context.Context, rec T) (T, error) {
	created, err := s.src.Create(ctx, rec)
	s.opts.Metrics.Observe(s.opts.Name, "insert", err)
	if err != nil {
		var zero T
		return zero, err
	}

	s.mu.Lock()
	added := s.addLocked(created)
	s.mu.Unlock()
	if added {
		s.notify()
	}
	return created, nil
}

// Update applies change locally, then sends the result. When the store
// rejects it the prior record is restored, unless a newer change for the
// same id arrived in the meantime.
func (s *Synchronizer[T]) Update(ctx context.Context, id string, change func(T) T) (T, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		var zero T
		return zero, ErrNotFound
	}
	prior := s.items[idx]
	next := change(prior)
	s.items[idx] = next
	s.gen[id]++
	mine := s.gen[id]
	s.mu.Unlock()
	s.notify()

	err := s.src.Update(ctx, next)
	s.opts.Metrics.Observe(s.opts.Name, "update", err)
	if err == nil {
		return next, nil
	}

	s.mu.Lock()
	rolledBack := false
	if s.gen[id] == mine {
		if idx := s.indexLocked(id); idx >= 0 {
			s.items[idx] = prior
			rolledBack = true
		}
	}
	s.mu.Unlock()
	if rolledBack {
		s.notify()
	}
	var zero T
	return zero, err
}

// Remove deletes remotely and drops the record locally only on success.
func (s *Synchronizer[T]) Remove(ctx context.Context, id string) error {
	err := s.src.Remove(ctx, id)
	s.opts.Metrics.Observe(s.opts.Name, "remove", err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	removed := s.removeLocked(id)
	s.gen[id]++
	s.mu.Unlock()
	if removed {
		s.notify()
	}
	return nil
}

// Apply reconciles one change event. It is idempotent by id and reports
// whether the local sequence changed.
func (s *Synchronizer[T]) Apply(ev Event[T]) bool {
	s.opts.Metrics.Event(s.opts.Name, string(ev.Kind))

	s.mu.Lock()
	if s.state == StateLoading {
		s.pending = append(s.pending, ev)
	}
	changed := s.applyLocked(ev)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

// applyLocked bumps the generation of ev.ID only when the event changed the
// local sequence, so redelivered no-op events never suppress a rollback.
func (s *Synchronizer[T]) applyLocked(ev Event[T]) bool {
	if ev.ID == "" {
		return false
	}
	var changed bool
	switch ev.Kind {
	case backend.ChangeCreated:
		changed = s.addLocked(ev.Record)
	case backend.ChangeUpdated:
		if idx := s.indexLocked(ev.ID); idx >= 0 {
			s.items[idx] = ev.Record
			changed = true
		}
	case backend.ChangeDeleted:
		changed = s.removeLocked(ev.ID)
	}
	if changed {
		s.gen[ev.ID]++
	}
	return changed
}

// Watch subscribes to change events for the scope. Sources without a
// realtime feed are accepted and simply stay fetch-only. The subscription
// lives until Close or until ctx is done.
func (s *Synchronizer[T]) Watch(ctx context.Context) error {
	feed, ok := s.src.(Feed[T])
	if !ok {
		return nil
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.sub != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := feed.Subscribe(watchCtx, func(ev Event[T]) { s.Apply(ev) })
	if err != nil {
		cancel()
		if errors.Is(err, ErrNoRealtime) {
			return nil
		}
		return err
	}
	s.sub = sub
	s.cancelWatch = cancel
	return nil
}

// Watching reports whether a realtime subscription is held.
func (s *Synchronizer[T]) Watching() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.sub != nil
}

// Close releases the realtime subscription. It is safe to call repeatedly.
func (s *Synchronizer[T]) Close() error {
	s.watchMu.Lock()
	sub, cancel := s.sub, s.cancelWatch
	s.sub, s.cancelWatch = nil, nil
	s.watchMu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	cancel()
	return err
}

// Snapshot returns a copy of the local sequence.
func (s *Synchronizer[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...)
}

func (s *Synchronizer[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.items[idx], true
	}
	var zero T
	return zero, false
}

func (s *Synchronizer[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Synchronizer[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed load, or nil.
func (s *Synchronizer[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers fn to run after every local change. The returned
// function unregisters it.
func (s *Synchronizer[T]) OnChange(fn func()) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Synchronizer[T]) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Synchronizer[T]) indexLocked(id string) int {
	for i, item := range s.items {
		if item.RecordID() == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer[T]) addLocked(rec T) bool {
	if s.indexLocked(rec.RecordID()) >= 0 {
		return false
	}
	if s.opts.Descending {
		s.items = append([]T{rec}, s.items...)
	} else {
		s.items = append(s.items, rec)
	}
	return true
}

func (s *Synchronizer[T]) removeLocked(id string) bool {
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return true
}
