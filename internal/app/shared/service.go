// Package shared manages the shared list catalogue of a user: lists they
// own plus lists they collaborate on.
package shared

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/listsync"
	"github.com/tasklists/project/internal/model"
	"github.com/tasklists/project/internal/platform/metrics"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrListRequired  = errors.New("list id is required")
	ErrListNotFound  = errors.New("list not found")
	ErrNotOwner      = errors.New("only the owner can delete a list")
)

type Service struct {
	Store    backend.Store
	Realtime backend.Realtime
	Logger   *slog.Logger
	Metrics  *metrics.Sync
}

func NewService(store backend.Store, realtime backend.Realtime, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Realtime: realtime, Logger: logger}
}

func (s *Service) Create(ctx context.Context, userID, title string) (model.SharedList, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.SharedList{}, ErrTitleRequired
	}
	rows, err := s.Store.Insert(ctx, backend.TableSharedLists, model.SharedList{Title: title, OwnerID: userID}.NewRow())
	if err != nil {
		return model.SharedList{}, err
	}
	if len(rows) == 0 {
		return model.SharedList{}, listsync.ErrEmptyResult
	}
	var list model.SharedList
	if err := backend.Decode(rows[0], &list); err != nil {
		return model.SharedList{}, err
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, listID string) (model.SharedList, error) {
	if strings.TrimSpace(listID) == "" {
		return model.SharedList{}, ErrListRequired
	}
	rows, err := s.Store.Select(ctx, backend.TableSharedLists, backend.Query{
		Filter: backend.Filter{backend.Eq("id", listID)},
		Limit:  1,
	})
	if err != nil {
		return model.SharedList{}, err
	}
	if len(rows) == 0 {
		return model.SharedList{}, ErrListNotFound
	}
	var list model.SharedList
	if err := backend.Decode(rows[0], &list); err != nil {
		return model.SharedList{}, err
	}
	return list, nil
}

// Delete removes a list owned by userID together with its items and
// collaborator rows, children first.
func (s *Service) Delete(ctx context.Context, userID, listID string) error {
	list, err := s.Get(ctx, listID)
	if err != nil {
		return err
	}
	if list.OwnerID != userID {
		return ErrNotOwner
	}
	scope := backend.Filter{backend.Eq("shared_todo_id", listID)}
	if err := s.Store.Delete(ctx, backend.TableListItems, scope); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := s.Store.Delete(ctx, backend.TableCollaborators, scope); err != nil {
		return fmt.Errorf("delete collaborators: %w", err)
	}
	if err := s.Store.Delete(ctx, backend.TableSharedLists, backend.Filter{backend.Eq("id", listID)}); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// CanAccess reports whether userID owns or collaborates on the list.
func (s *Service) CanAccess(ctx context.Context, userID, listID string) (bool, error) {
	list, err := s.Get(ctx, listID)
	if err != nil {
		if errors.Is(err, ErrListNotFound) {
			return false, nil
		}
		return false, err
	}
	if list.OwnerID == userID {
		return true, nil
	}
	rows, err := s.Store.Select(ctx, backend.TableCollaborators, backend.Query{
		Columns: []string{"id"},
		Filter:  backend.Filter{backend.Eq("shared_todo_id", listID), backend.Eq("user_id", userID)},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// ListsFor returns the lists userID owns or collaborates on, oldest first.
func (s *Service) ListsFor(ctx context.Context, userID string) ([]model.SharedList, error) {
	owned, err := s.Store.Select(ctx, backend.TableSharedLists, backend.Query{
		Filter: backend.Filter{backend.Eq("owner_id", userID)},
	})
	if err != nil {
		return nil, err
	}

	memberships, err := s.Store.Select(ctx, backend.TableCollaborators, backend.Query{
		Columns: []string{"shared_todo_id"},
		Filter:  backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}
	rows := owned
	if len(memberships) > 0 {
		ids := make([]string, 0, len(memberships))
		for _, m := range memberships {
			ids = append(ids, m.String("shared_todo_id"))
		}
		joined, err := s.Store.Select(ctx, backend.TableSharedLists, backend.Query{
			Filter: backend.Filter{backend.In("id", ids...)},
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, joined...)
	}

	lists, err := backend.DecodeAll[model.SharedList](rows)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(lists, func(a, b model.SharedList) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return slices.CompactFunc(lists, func(a, b model.SharedList) bool { return a.ID == b.ID }), nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Lists returns a synchronized catalogue for userID. Call Load before use
// and Close when done.
func (s *Service) Lists(userID string) *Catalog {
	src := &catalogSource{svc: s, userID: userID}
	return &Catalog{
		svc:    s,
		userID: userID,
		sync: listsync.New[model.SharedList](src, listsync.Options{
			Name:    backend.TableSharedLists,
			Metrics: s.Metrics,
		}),
	}
}

type Catalog struct {
	svc    *Service
	userID string
	sync   *listsync.Synchronizer[model.SharedList]
}

// Mount loads the catalogue and follows changes to owned lists and
// memberships.
func (c *Catalog) Mount(ctx context.Context) error {
	if err := c.sync.Watch(ctx); err != nil {
		return err
	}
	return c.sync.Load(ctx)
}

func (c *Catalog) Load(ctx context.Context) error {
	return c.sync.Load(ctx)
}

func (c *Catalog) Close() error {
	return c.sync.Close()
}

func (c *Catalog) Items() []model.SharedList {
	return c.sync.Snapshot()
}

func (c *Catalog) State() listsync.State {
	return c.sync.State()
}

func (c *Catalog) OnChange(fn func()) func() {
	return c.sync.OnChange(fn)
}

func (c *Catalog) Create(ctx context.Context, title string) (model.SharedList, error) {
	if strings.TrimSpace(title) == "" {
		return model.SharedList{}, ErrTitleRequired
	}
	return c.sync.Insert(ctx, model.SharedList{Title: title, OwnerID: c.userID})
}

func (c *Catalog) Delete(ctx context.Context, listID string) error {
	return c.sync.Remove(ctx, listID)
}

// catalogSource adapts the service to listsync.Source.
type catalogSource struct {
	svc    *Service
	userID string
}

func (c *catalogSource) Fetch(ctx context.Context) ([]model.SharedList, error) {
	return c.svc.ListsFor(ctx, c.userID)
}

func (c *catalogSource) Create(ctx context.Context, rec model.SharedList) (model.SharedList, error) {
	return c.svc.Create(ctx, c.userID, rec.Title)
}

func (c *catalogSource) Update(ctx context.Context, next model.SharedList) error {
	return c.svc.Store.Update(ctx, backend.TableSharedLists, next.Patch(), backend.Filter{
		backend.Eq("id", next.ID),
		backend.Eq("owner_id", c.userID),
	})
}

func (c *catalogSource) Remove(ctx context.Context, id string) error {
	return c.svc.Delete(ctx, c.userID, id)
}

// Subscribe follows owned lists directly and memberships through the
// collaborators table, so an invite or a removal shows up as the list being
// created or deleted in the catalogue. Title edits by another owner are not
// followed; they show up on the next Load.
func (c *catalogSource) Subscribe(ctx context.Context, fn func(listsync.Event[model.SharedList])) (backend.Subscription, error) {
	if c.svc.Realtime == nil {
		return nil, listsync.ErrNoRealtime
	}
	owned, err := c.svc.Realtime.Subscribe(ctx, backend.TableSharedLists, backend.Filter{backend.Eq("owner_id", c.userID)}, func(ce backend.ChangeEvent) {
		ev, err := listsync.DecodeEvent[model.SharedList](ce)
		if err != nil {
			c.svc.logger().Warn("decode change event", "table", backend.TableSharedLists, "err", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, err
	}
	memberships, err := c.svc.Realtime.Subscribe(ctx, backend.TableCollaborators, backend.Filter{backend.Eq("user_id", c.userID)}, func(ce backend.ChangeEvent) {
		c.membershipChanged(ctx, ce, fn)
	})
	if err != nil {
		_ = owned.Unsubscribe()
		return nil, err
	}
	return subscriptions{owned, memberships}, nil
}

func (c *catalogSource) membershipChanged(ctx context.Context, ce backend.ChangeEvent, fn func(listsync.Event[model.SharedList])) {
	listID := ce.Record().String("shared_todo_id")
	if listID == "" {
		return
	}
	switch ce.Kind {
	case backend.ChangeCreated:
		list, err := c.svc.Get(ctx, listID)
		if err != nil {
			c.svc.logger().Warn("load shared list", "list_id", listID, "err", err)
			return
		}
		fn(listsync.Event[model.SharedList]{Kind: backend.ChangeCreated, ID: list.ID, Record: list})
	case backend.ChangeDeleted:
		fn(listsync.Event[model.SharedList]{Kind: backend.ChangeDeleted, ID: listID})
	}
}

type subscriptions []backend.Subscription

func (s subscriptions) Unsubscribe() error {
	var errs []error
	for _, sub := range s {
		errs = append(errs, sub.Unsubscribe())
	}
	return errors.Join(errs...)
}
