package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsOutcomes(t *testing.T) {
	s := NewSync(prometheus.NewRegistry())
	s.Observe("todos", "update", nil)
	s.Observe("todos", "update", errors.New("boom"))
	s.Observe("todos", "update", errors.New("boom"))

	if got := testutil.ToFloat64(s.Operations.WithLabelValues("todos", "update", "ok")); got != 1 {
		t.Fatalf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(s.Operations.WithLabelValues("todos", "update", "error")); got != 2 {
		t.Fatalf("error count = %v", got)
	}
}

func TestMountedViewsGauge(t *testing.T) {
	s := NewSync(prometheus.NewRegistry())
	s.ViewMounted()
	s.ViewMounted()
	s.ViewClosed()
	if got := testutil.ToFloat64(s.MountedViews); got != 1 {
		t.Fatalf("mounted views = %v", got)
	}
}

func TestNilSyncIsNoop(t *testing.T) {
	var s *Sync
	s.Observe("todos", "insert", nil)
	s.Event("todos", "created")
	s.ViewMounted()
	s.ViewClosed()
}
