// Package metrics exposes discoverd's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all discoverd metrics.
type Registry struct {
	// Hook pipeline
	HookRuns *prometheus.CounterVec

	// Discovery filter
	FilterUpdates        *prometheus.CounterVec
	FilterUpdateDuration prometheus.Histogram
	DenylistSize         prometheus.Gauge

	// Node registry
	RegistryConflicts prometheus.Counter

	// Introspection lifecycle
	Introspections *prometheus.CounterVec
	ActiveNodes    prometheus.Gauge

	// API
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// Get returns the process-wide registry, registered with the default
// Prometheus registerer on first use.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// New creates a Registry whose collectors are registered with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.HookRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "discoverd_hook_runs_total",
		Help: "Hook invocations by phase and result",
	}, []string{"hook", "phase", "result"})

	r.FilterUpdates = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "discoverd_filter_updates_total",
		Help: "Discovery chain swaps by result",
	}, []string{"result"})

	r.FilterUpdateDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "discoverd_filter_update_duration_seconds",
		Help:    "Time spent rebuilding and swapping the discovery chain",
		Buckets: prometheus.DefBuckets,
	})

	r.DenylistSize = factory.NewGauge(prometheus.GaugeOpts{
		Name: "discoverd_filter_denylist_size",
		Help: "Hardware addresses dropped by the current discovery chain",
	})

	r.RegistryConflicts = factory.NewCounter(prometheus.CounterOpts{
		Name: "discoverd_registry_conflicts_total",
		Help: "Node registry conflicts that triggered a retry",
	})

	r.Introspections = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "discoverd_introspections_total",
		Help: "Introspection lifecycle events",
	}, []string{"event"})

	r.ActiveNodes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "discoverd_nodes_active",
		Help: "Nodes currently under introspection",
	})

	r.APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "discoverd_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discoverd_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordHook records one hook invocation.
func (r *Registry) RecordHook(hook, phase string, err error) {
	r.HookRuns.WithLabelValues(hook, phase, result(err)).Inc()
}

// RecordFilterUpdate records a chain swap and the denylist it installed.
func (r *Registry) RecordFilterUpdate(denylisted int, seconds float64, err error) {
	r.FilterUpdates.WithLabelValues(result(err)).Inc()
	r.FilterUpdateDuration.Observe(seconds)
	if err == nil {
		r.DenylistSize.Set(float64(denylisted))
	}
}

// RecordConflict counts a registry conflict.
func (r *Registry) RecordConflict() {
	r.RegistryConflicts.Inc()
}

// RecordIntrospection counts an introspection lifecycle event
// (started, finished, failed, timeout).
func (r *Registry) RecordIntrospection(event string) {
	r.Introspections.WithLabelValues(event).Inc()
}

// SetActiveNodes sets the number of nodes under introspection.
func (r *Registry) SetActiveNodes(n int) {
	r.ActiveNodes.Set(float64(n))
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
