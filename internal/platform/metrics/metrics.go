package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync groups the collectors the list synchronizer and web layer report to.
type Sync struct {
	Operations     *prometheus.CounterVec
	RealtimeEvents *prometheus.CounterVec
	MountedViews   prometheus.Gauge
}

// NewSync registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	s := &Sync{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasklists_sync_operations_total",
			Help: "Remote list operations by table, operation and outcome.",
		}, []string{"table", "op", "outcome"}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasklists_realtime_events_total",
			Help: "Change events applied to local lists.",
		}, []string{"table", "kind"}),
		MountedViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasklists_mounted_views",
			Help: "Live list views currently streaming to clients.",
		}),
	}
	reg.MustRegister(s.Operations, s.RealtimeEvents, s.MountedViews)
	return s
}

// Observe records the outcome of one remote operation. Nil receivers are
// allowed so callers need not check whether metrics are enabled.
func (s *Sync) Observe(table, op string, err error) {
	if s == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.Operations.WithLabelValues(table, op, outcome).Inc()
}

func (s *Sync) Event(table, kind string) {
	if s == nil {
		return
	}
	s.RealtimeEvents.WithLabelValues(table, kind).Inc()
}

func (s *Sync) ViewMounted() {
	if s == nil {
		return
	}
	s.MountedViews.Inc()
}

func (s *Sync) ViewClosed() {
	if s == nil {
		return
	}
	s.MountedViews.Dec()
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
