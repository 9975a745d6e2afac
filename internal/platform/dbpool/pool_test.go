package dbpool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5*time.Second, "schema", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5*time.Second, "schema", func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(context.Background(), "::not a url::", Options{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOptionsDefaults(t *testing.T) {
	got := Options{MinConns: 50, MaxConns: 10}.withDefaults()
	if got.MinConns != 10 || got.MaxConns != 10 {
		t.Fatalf("expected min clamped to max, got %+v", got)
	}
	got = Options{MinConns: -1}.withDefaults()
	if got.MinConns != defaultMinConns || got.MaxConns != defaultMaxConns || got.HealthCheckPeriod != defaultHealthCheck {
		t.Fatalf("unexpected defaults %+v", got)
	}
}
