package stack

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/platform/config"
)

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), &config.Config{Backend: config.BackendMemory}, "test", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Store == nil || s.Realtime == nil {
		t.Fatal("expected store and realtime")
	}
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func TestOpenSQLiteCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasks.db")
	s, err := Open(context.Background(), &config.Config{Backend: config.BackendSQLite, SQLitePath: path}, "test", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Store.Insert(context.Background(), backend.TableTodos, backend.Row{"user_id": "u1", "title": "x", "is_complete": false}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{Backend: "mongo"}, "test", nil); err == nil {
		t.Fatal("expected error")
	}
}
