// Package notify turns the current user's list invitations into
// notifications with an unread count.
package notify

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/model"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Feed struct {
	Store  backend.Store
	UserID string
	Logger *slog.Logger

	mu    sync.Mutex
	items []model.Notification
}

func NewFeed(store backend.Store, userID string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{Store: store, UserID: userID, Logger: logger}
}

// Refresh reloads the invitations of the user, newest first.
func (f *Feed) Refresh(ctx context.Context) error {
	rows, err := f.Store.Select(ctx, backend.TableCollaborators, backend.Query{
		Filter: backend.Filter{backend.Eq("user_id", f.UserID)},
		Order:  []backend.Order{{Column: "created_at", Descending: true}},
	})
	if err != nil {
		return err
	}
	memberships, err := backend.DecodeAll[model.Collaborator](rows)
	if err != nil {
		return err
	}

	lists, err := f.lists(ctx, memberships)
	if err != nil {
		return err
	}
	owners, err := f.owners(ctx, lists)
	if err != nil {
		return err
	}

	items := make([]model.Notification, 0, len(memberships))
	for _, m := range memberships {
		list, ok := lists[m.ListID]
		if !ok {
			continue
		}
		owner := owners[list.OwnerID]
		items = append(items, model.Notification{
			ID:        m.ID,
			ListID:    m.ListID,
			ListTitle: list.Title,
			OwnerName: owner.DisplayName(),
			IsRead:    m.IsRead,
			CreatedAt: m.CreatedAt,
		})
	}
	slices.SortStableFunc(items, func(a, b model.Notification) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
	return nil
}

func (f *Feed) lists(ctx context.Context, memberships []model.Collaborator) (map[string]model.SharedList, error) {
	out := map[string]model.SharedList{}
	if len(memberships) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ListID)
	}
	rows, err := f.Store.Select(ctx, backend.TableSharedLists, backend.Query{
		Filter: backend.Filter{backend.In("id", ids...)},
	})
	if err != nil {
		return nil, err
	}
	lists, err := backend.DecodeAll[model.SharedList](rows)
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		out[l.ID] = l
	}
	return out, nil
}

func (f *Feed) owners(ctx context.Context, lists map[string]model.SharedList) (map[string]model.Profile, error) {
	out := map[string]model.Profile{}
	if len(lists) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(lists))
	for _, l := range lists {
		ids = append(ids, l.OwnerID)
	}
	rows, err := f.Store.Select(ctx, backend.TableProfiles, backend.Query{
		Filter: backend.Filter{backend.In("id", ids...)},
	})
	if err != nil {
		return nil, err
	}
	profiles, err := backend.DecodeAll[model.Profile](rows)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

func (f *Feed) Items() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.items...)
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// MarkRead sets the read flag of one notification. The local flag flips
// only after the store accepted the update.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return ErrNotificationNotFound
	}
	if f.items[idx].IsRead {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	err := f.Store.Update(ctx, backend.TableCollaborators, backend.Row{"is_read": true}, backend.Filter{
		backend.Eq("id", id),
		backend.Eq("user_id", f.UserID),
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	if idx := f.indexLocked(id); idx >= 0 {
		f.items[idx].IsRead = true
	}
	f.mu.Unlock()
	return nil
}

func (f *Feed) indexLocked(id string) int {
	for i, item := range f.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Poll refreshes on every tick until ctx is done and calls onChange when
// the unread count moved. Refresh failures are logged and retried on the
// next tick.
func (f *Feed) Poll(ctx context.Context, interval time.Duration, onChange func(unread int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := f.UnreadCount()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.Logger.Warn("refresh notifications", "user_id", f.UserID, "err", err)
				continue
			}
			if n := f.UnreadCount(); n != last {
				last = n
				if onChange != nil {
					onChange(n)
				}
			}
		}
	}
}
