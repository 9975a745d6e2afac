//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasklists/project/internal/app/collab"
	"github.com/tasklists/project/internal/app/identity"
	"github.com/tasklists/project/internal/app/notify"
	"github.com/tasklists/project/internal/app/shared"
	"github.com/tasklists/project/internal/app/tasks"
	"github.com/tasklists/project/internal/model"
	"github.com/tasklists/project/internal/platform/config"
	"github.com/tasklists/project/internal/platform/logging"
	"github.com/tasklists/project/internal/session"
	"github.com/tasklists/project/internal/stack"
)

// client is one process worth of wiring against the shared postgres and
// NATS backend.
type client struct {
	stack    *stack.Stack
	identity *identity.Service
}

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TASKLISTS_TEST_DATABASE_URL")
	natsURL := os.Getenv("TASKLISTS_TEST_NATS_URL")
	if databaseURL == "" || natsURL == "" {
		t.Skip("TASKLISTS_TEST_DATABASE_URL and TASKLISTS_TEST_NATS_URL are required")
	}
	return &config.Config{
		Backend:            config.BackendPostgres,
		DatabaseURL:        databaseURL,
		NATSURL:            natsURL,
		NATSConnectTimeout: 20 * time.Second,
		JWTSecret:          "integration-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		Timezone:           "UTC",
	}
}

func newClient(t *testing.T, cfg *config.Config, name string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.New(os.Stderr, logging.ParseLevel("warn"))
	st, err := stack.Open(ctx, cfg, name, logger)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Ready(ctx); err != nil {
		t.Fatalf("%s not ready: %v", name, err)
	}

	svc := identity.NewService(
		identity.NewStoreRepository(st.Store),
		identity.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
	)
	svc.RefreshTTL = cfg.RefreshTokenTTL
	return &client{stack: st, identity: svc}
}

func (c *client) signUp(t *testing.T, prefix string) *session.Session {
	t.Helper()
	provider := session.NewProvider(c.identity.Sessions())
	email := fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
	sess, err := provider.SignUp(context.Background(), email, "integration-password")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return sess
}

func TestPersonalTodosSyncAcrossClients(t *testing.T) {
	cfg := integrationConfig(t)
	a := newClient(t, cfg, "client-a")
	b := newClient(t, cfg, "client-b")
	user := a.signUp(t, "sync")
	ctx := context.Background()

	viewA := tasks.NewPersonal(a.stack.Store, a.stack.Realtime, user.UserID, time.UTC)
	viewB := tasks.NewPersonal(b.stack.Store, b.stack.Realtime, user.UserID, time.UTC)
	for _, v := range []*tasks.View[model.Todo]{viewA, viewB} {
		if err := v.Mount(ctx); err != nil {
			t.Fatalf("mount: %v", err)
		}
		t.Cleanup(func() { _ = v.Close() })
	}

	title := fmt.Sprintf("integration-todo-%d", time.Now().UnixNano())
	created, err := viewA.Add(ctx, title)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 10*time.Second, "todo to reach client b", func() bool {
		got, ok := findTask(viewB.Items(), created.ID)
		return ok && got.Title == title
	})

	if _, err := viewB.Toggle(ctx, created.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	waitFor(t, 10*time.Second, "toggle to reach client a", func() bool {
		got, ok := findTask(viewA.Items(), created.ID)
		return ok && got.IsComplete
	})

	waitForPersistedTodo(t, cfg.DatabaseURL, created.ID, true, 5*time.Second)

	if err := viewA.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, 10*time.Second, "delete to reach client b", func() bool {
		_, ok := findTask(viewB.Items(), created.ID)
		return !ok
	})
}

func TestInvitedMemberSharesListItems(t *testing.T) {
	cfg := integrationConfig(t)
	ownerClient := newClient(t, cfg, "owner")
	memberClient := newClient(t, cfg, "member")
	owner := ownerClient.signUp(t, "owner")
	member := memberClient.signUp(t, "member")
	ctx := context.Background()

	lists := shared.NewService(ownerClient.stack.Store, ownerClient.stack.Realtime, nil)
	list, err := lists.Create(ctx, owner.UserID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	collaborators, err := collab.NewManager(ownerClient.stack.Store).Invite(ctx, list.ID, member.Email)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if len(collaborators) != 1 || collaborators[0].UserID != member.UserID {
		t.Fatalf("unexpected collaborators %+v", collaborators)
	}

	feed := notify.NewFeed(memberClient.stack.Store, member.UserID, nil)
	if err := feed.Refresh(ctx); err != nil {
		t.Fatalf("refresh notifications: %v", err)
	}
	if feed.UnreadCount() != 1 || feed.Items()[0].ListID != list.ID {
		t.Fatalf("expected one unread invitation, got %+v", feed.Items())
	}
	if err := feed.MarkRead(ctx, feed.Items()[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	memberLists := shared.NewService(memberClient.stack.Store, memberClient.stack.Realtime, nil)
	ok, err := memberLists.CanAccess(ctx, member.UserID, list.ID)
	if err != nil || !ok {
		t.Fatalf("expected member access, got %v, %v", ok, err)
	}

	ownerItems := tasks.NewSharedItems(ownerClient.stack.Store, ownerClient.stack.Realtime, list.ID, time.UTC)
	memberItems := tasks.NewSharedItems(memberClient.stack.Store, memberClient.stack.Realtime, list.ID, time.UTC)
	for _, v := range []*tasks.View[model.ListItem]{ownerItems, memberItems} {
		if err := v.Mount(ctx); err != nil {
			t.Fatalf("mount items: %v", err)
		}
		t.Cleanup(func() { _ = v.Close() })
	}

	item, err := memberItems.Add(ctx, "eggs")
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	waitFor(t, 10*time.Second, "item to reach owner", func() bool {
		_, ok := findTask(ownerItems.Items(), item.ID)
		return ok
	})

	if err := lists.Delete(ctx, owner.UserID, list.ID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	ok, err = memberLists.CanAccess(ctx, member.UserID, list.ID)
	if err != nil || ok {
		t.Fatalf("expected access revoked after delete, got %v, %v", ok, err)
	}
}

func findTask[T interface{ RecordID() string }](items []T, id string) (T, bool) {
	for _, item := range items {
		if item.RecordID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitForPersistedTodo(t *testing.T, databaseURL, id string, complete bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pool, err := pgxpool.New(ctx, databaseURL)
		if err == nil {
			var got bool
			queryErr := pool.QueryRow(ctx, "select is_complete from todos where id = $1", id).Scan(&got)
			pool.Close()
			cancel()
			if queryErr == nil && got == complete {
				return
			}
		} else {
			cancel()
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for todo %s is_complete=%v", id, complete)
}
