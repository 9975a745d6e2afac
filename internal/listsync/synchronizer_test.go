package listsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/backend/memory"
	"github.com/tasklists/project/internal/model"
)

type item struct {
	ID    string
	Title string
	Done  bool
}

func (i item) RecordID() string { return i.ID }

type fakeSource struct {
	mu        sync.Mutex
	rows      []item
	fetchErr  error
	createErr error
	updateErr error
	removeErr error
	nextID    int
	updates   []item
	// updateGate, when set, blocks Update until a value is received.
	updateGate chan struct{}
	// fetchGate, when set, blocks Fetch the same way.
	fetchGate chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context) ([]item, error) {
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]item(nil), f.rows...), nil
}

func (f *fakeSource) Create(ctx context.Context, rec item) (item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return item{}, f.createErr
	}
	f.nextID++
	rec.ID = fmt.Sprintf("i%d", f.nextID)
	f.rows = append(f.rows, rec)
	return rec, nil
}

func (f *fakeSource) Update(ctx context.Context, next item) error {
	if f.updateGate != nil {
		<-f.updateGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, next)
	return f.updateErr
}

func (f *fakeSource) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeErr
}

func loaded(t *testing.T, src *fakeSource, opts Options) *Synchronizer[item] {
	t.Helper()
	s := New[item](src, opts)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func ids(items []item) string {
	out := ""
	for _, it := range items {
		out += it.ID
	}
	return out
}

func TestLoadTransitionsToReady(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}, {ID: "b"}}}
	s := New[item](src, Options{})
	if s.State() != StateEmpty {
		t.Fatalf("expected empty state, got %v", s.State())
	}

	var seen []State
	s.OnChange(func() { seen = append(seen, s.State()) })
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(seen) != 2 || seen[0] != StateLoading || seen[1] != StateReady {
		t.Fatalf("unexpected transitions: %v", seen)
	}
	if ids(s.Snapshot()) != "ab" {
		t.Fatalf("unexpected items: %v", s.Snapshot())
	}
}

func TestFailedReloadKeepsPreviousItems(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}}}
	s := loaded(t, src, Options{})

	src.fetchErr = errors.New("offline")
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if s.State() != StateError || s.Err() == nil {
		t.Fatalf("expected error state, got %v %v", s.State(), s.Err())
	}
	if ids(s.Snapshot()) != "a" {
		t.Fatalf("expected previous items to survive, got %v", s.Snapshot())
	}

	src.fetchErr = nil
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.State() != StateReady || s.Err() != nil {
		t.Fatalf("expected ready after reload, got %v %v", s.State(), s.Err())
	}
}

func TestApplyCreatedIsIdempotent(t *testing.T) {
	s := loaded(t, &fakeSource{rows: []item{{ID: "a"}}}, Options{})
	ev := Event[item]{Kind: backend.ChangeCreated, ID: "b", Record: item{ID: "b"}}

	if !s.Apply(ev) {
		t.Fatal("expected first create to change the list")
	}
	if s.Apply(ev) {
		t.Fatal("expected duplicate create to be a no-op")
	}
	if ids(s.Snapshot()) != "ab" {
		t.Fatalf("unexpected items: %v", s.Snapshot())
	}
}

func TestApplyCreatedPrependsWhenDescending(t *testing.T) {
	s := loaded(t, &fakeSource{rows: []item{{ID: "b"}, {ID: "a"}}}, Options{Descending: true})
	s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "c", Record: item{ID: "c"}})
	if ids(s.Snapshot()) != "cba" {
		t.Fatalf("unexpected items: %v", s.Snapshot())
	}
}

func TestApplyUpdatedReplacesInPlace(t *testing.T) {
	s := loaded(t, &fakeSource{rows: []item{{ID: "a"}, {ID: "b", Title: "old"}, {ID: "c"}}}, Options{})

	if s.Apply(Event[item]{Kind: backend.ChangeUpdated, ID: "zz", Record: item{ID: "zz"}}) {
		t.Fatal("update for absent id must be a no-op")
	}
	s.Apply(Event[item]{Kind: backend.ChangeUpdated, ID: "b", Record: item{ID: "b", Title: "new", Done: true}})

	got := s.Snapshot()
	if ids(got) != "abc" || got[1].Title != "new" || !got[1].Done {
		t.Fatalf("unexpected items: %v", got)
	}
}

func TestApplyDeletedPreservesOrder(t *testing.T) {
	s := loaded(t, &fakeSource{rows: []item{{ID: "a"}, {ID: "b"}, {ID: "c"}}}, Options{})
	if !s.Apply(Event[item]{Kind: backend.ChangeDeleted, ID: "b"}) {
		t.Fatal("expected delete to change the list")
	}
	if s.Apply(Event[item]{Kind: backend.ChangeDeleted, ID: "b"}) {
		t.Fatal("expected repeated delete to be a no-op")
	}
	if ids(s.Snapshot()) != "ac" {
		t.Fatalf("unexpected items: %v", s.Snapshot())
	}
}

func TestInsertSkipsRecordAlreadyDeliveredByEvent(t *testing.T) {
	src := &fakeSource{}
	s := loaded(t, src, Options{})
	s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "i1", Record: item{ID: "i1"}})

	created, err := s.Insert(context.Background(), item{Title: "x"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID != "i1" || s.Len() != 1 {
		t.Fatalf("expected single i1, got %v", s.Snapshot())
	}
}

func TestInsertFailureLeavesStateUnchanged(t *testing.T) {
	src := &fakeSource{createErr: errors.New("denied")}
	s := loaded(t, src, Options{})
	if _, err := s.Insert(context.Background(), item{Title: "x"}); err == nil {
		t.Fatal("expected insert error")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty list, got %v", s.Snapshot())
	}
}

func TestOptimisticUpdateRollsBackOnFailure(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}}, updateErr: errors.New("rejected"), updateGate: make(chan struct{})}
	s := loaded(t, src, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Update(context.Background(), "a", func(it item) item {
			it.Done = !it.Done
			return it
		})
		done <- err
	}()

	waitFor(t, func() bool {
		got, _ := s.Get("a")
		return got.Done
	})
	close(src.updateGate)

	if err := <-done; err == nil {
		t.Fatal("expected update error")
	}
	if got, _ := s.Get("a"); got.Done {
		t.Fatal("expected rollback to the prior flag")
	}
}

func TestRollbackSkippedWhenNewerEventArrived(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a", Title: "v1"}}, updateErr: errors.New("rejected"), updateGate: make(chan struct{})}
	s := loaded(t, src, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Update(context.Background(), "a", func(it item) item {
			it.Done = true
			return it
		})
		done <- err
	}()
	waitFor(t, func() bool {
		got, _ := s.Get("a")
		return got.Done
	})

	s.Apply(Event[item]{Kind: backend.ChangeUpdated, ID: "a", Record: item{ID: "a", Title: "v2", Done: true}})
	close(src.updateGate)
	<-done

	got, _ := s.Get("a")
	if got.Title != "v2" || !got.Done {
		t.Fatalf("expected newer event to win, got %+v", got)
	}
}

func TestDuplicateCreatedEventDoesNotSuppressRollback(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}}, updateErr: errors.New("rejected"), updateGate: make(chan struct{})}
	s := loaded(t, src, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Update(context.Background(), "a", func(it item) item {
			it.Done = true
			return it
		})
		done <- err
	}()
	waitFor(t, func() bool {
		got, _ := s.Get("a")
		return got.Done
	})

	if s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "a", Record: item{ID: "a"}}) {
		t.Fatal("redelivered created event should be a no-op")
	}
	if s.Apply(Event[item]{Kind: backend.ChangeUpdated, ID: "zz", Record: item{ID: "zz"}}) {
		t.Fatal("update of an absent id should be a no-op")
	}
	close(src.updateGate)

	if err := <-done; err == nil {
		t.Fatal("expected update error")
	}
	if got, _ := s.Get("a"); got.Done {
		t.Fatalf("expected rollback after duplicate event, got %+v", got)
	}
}

func TestEventsDuringLoadAreReplayed(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}, {ID: "b"}}, fetchGate: make(chan struct{})}
	s := New[item](src, Options{})

	loadErr := make(chan error, 1)
	go func() { loadErr <- s.Load(context.Background()) }()
	waitFor(t, func() bool { return s.State() == StateLoading })

	s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "c", Record: item{ID: "c"}})
	s.Apply(Event[item]{Kind: backend.ChangeDeleted, ID: "a"})
	close(src.fetchGate)

	if err := <-loadErr; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := ids(s.Snapshot()); got != "bc" {
		t.Fatalf("expected events replayed over the fetch, got %q", got)
	}
	if s.State() != StateReady {
		t.Fatalf("expected ready, got %v", s.State())
	}
}

func TestUpdateUnknownID(t *testing.T) {
	s := loaded(t, &fakeSource{}, Options{})
	_, err := s.Update(context.Background(), "nope", func(it item) item { return it })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveOnlyOnSuccess(t *testing.T) {
	src := &fakeSource{rows: []item{{ID: "a"}, {ID: "b"}}, removeErr: errors.New("denied")}
	s := loaded(t, src, Options{})

	if err := s.Remove(context.Background(), "a"); err == nil {
		t.Fatal("expected remove error")
	}
	if s.Len() != 2 {
		t.Fatalf("expected both items to remain, got %v", s.Snapshot())
	}

	src.removeErr = nil
	if err := s.Remove(context.Background(), "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ids(s.Snapshot()) != "b" {
		t.Fatalf("unexpected items: %v", s.Snapshot())
	}
}

func TestOnChangeCancel(t *testing.T) {
	s := loaded(t, &fakeSource{}, Options{})
	calls := 0
	cancel := s.OnChange(func() { calls++ })
	s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "a", Record: item{ID: "a"}})
	cancel()
	s.Apply(Event[item]{Kind: backend.ChangeCreated, ID: "b", Record: item{ID: "b"}})
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
}

func TestWatchWithoutFeedIsFetchOnly(t *testing.T) {
	s := loaded(t, &fakeSource{}, Options{})
	if err := s.Watch(context.Background()); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if s.Watching() {
		t.Fatal("expected no subscription for a source without a feed")
	}
}

func TestPersonalScenarioOverMemoryStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := &TableSource[model.Todo]{
		Store:    store,
		Realtime: store,
		Table:    backend.TableTodos,
		Scope:    backend.Filter{backend.Eq("user_id", "u1")},
		Order:    []backend.Order{{Column: "created_at"}},
		NewRow:   model.Todo.NewRow,
		Patch:    model.Todo.Patch,
	}
	s := New[model.Todo](src, Options{Name: backend.TableTodos})
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer s.Close()
	if !s.Watching() {
		t.Fatal("expected realtime subscription")
	}

	created, err := s.Insert(ctx, model.Todo{UserID: "u1", Title: "Buy milk"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got := s.Snapshot()
	if len(got) != 1 || got[0].Title != "Buy milk" || got[0].IsComplete {
		t.Fatalf("unexpected list after add: %+v", got)
	}

	if _, err := s.Update(ctx, created.ID, func(t model.Todo) model.Todo { return t.WithCompleted(!t.IsComplete) }); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got, _ := s.Get(created.ID); !got.IsComplete {
		t.Fatal("expected completed todo")
	}

	if err := s.Remove(ctx, created.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty list, got %+v", s.Snapshot())
	}

	// A row written by another client for the same user arrives by event.
	if _, err := store.Insert(ctx, backend.TableTodos, backend.Row{"user_id": "u1", "title": "remote", "is_complete": false}); err != nil {
		t.Fatalf("remote insert: %v", err)
	}
	// Rows of other users never reach this list.
	if _, err := store.Insert(ctx, backend.TableTodos, backend.Row{"user_id": "u2", "title": "foreign", "is_complete": false}); err != nil {
		t.Fatalf("foreign insert: %v", err)
	}
	got = s.Snapshot()
	if len(got) != 1 || got[0].Title != "remote" {
		t.Fatalf("expected remote todo only, got %+v", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if store.Hub.Len() != 0 {
		t.Fatalf("expected subscription release, %d left", store.Hub.Len())
	}
}

func TestTableSourceCannotTouchRowsOutsideScope(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rows, err := store.Insert(ctx, backend.TableTodos, backend.Row{"user_id": "u2", "title": "theirs", "is_complete": false})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	src := &TableSource[model.Todo]{
		Store:  store,
		Table:  backend.TableTodos,
		Scope:  backend.Filter{backend.Eq("user_id", "u1")},
		NewRow: model.Todo.NewRow,
		Patch:  model.Todo.Patch,
	}
	if err := src.Remove(ctx, rows[0].String("id")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if store.Count(backend.TableTodos) != 1 {
		t.Fatal("row outside the scope was deleted")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
