// Package metrics exposes Prometheus collectors for the social graph service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socialgraph"

// Metrics holds the service collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	toggles       *prometheus.CounterVec
	cascadeFails  *prometheus.CounterVec
	repairs       *prometheus.CounterVec
	repairPending prometheus.Gauge
	assembled     *prometheus.HistogramVec
	dropped       *prometheus.CounterVec
	aggregated    prometheus.Histogram
	trackerEvents *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// BackendStats is a snapshot of a backend client's request counters.
type BackendStats struct {
	Total   int64
	Success int64
	Failed  int64
	Retried int64
	// CircuitOpen is 1 while the client's breaker rejects requests.
	CircuitOpen int
}

// New creates the collectors and registers them with process and Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"service", "method", "path"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationship",
			Name:      "toggles_total",
			Help:      "Relationship toggles by kind and outcome.",
		}, []string{"kind", "outcome"}),
		cascadeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationship",
			Name:      "cascade_failures_total",
			Help:      "Follow edge deletions that failed during a block cascade.",
		}, []string{"direction"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationship",
			Name:      "cascade_repairs_total",
			Help:      "Cascade repair attempts by outcome.",
		}, []string{"outcome"}),
		repairPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relationship",
			Name:      "cascade_repairs_pending",
			Help:      "Block pairs waiting for follow edge cleanup.",
		}),
		assembled: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "assemble_duration_seconds",
			Help:      "Duration of list page assembly.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "filtered_items_total",
			Help:      "Items removed from list pages by visibility filtering.",
		}, []string{"source"}),
		aggregated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poststats",
			Name:      "aggregate_duration_seconds",
			Help:      "Duration of post stats aggregation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		trackerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "tracker_events_total",
			Help:      "Unread tracker refreshes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "visibility",
			Name:      "exclusion_cache_lookups_total",
			Help:      "Exclusion cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.toggles,
		m.cascadeFails,
		m.repairs,
		m.repairPending,
		m.assembled,
		m.dropped,
		m.aggregated,
		m.trackerEvents,
		m.cacheLookups,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterBackend exposes a backend client's counters under the given name.
func (m *Metrics) RegisterBackend(name string, snapshot func() BackendStats) {
	labels := prometheus.Labels{"backend": name}
	counter := func(metric, help string, pick func(BackendStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "backend",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(pick(snapshot())) })
	}
	m.registry.MustRegister(
		counter("requests_total", "Backend requests issued.", func(s BackendStats) int64 { return s.Total }),
		counter("requests_failed_total", "Backend requests that failed after retries.", func(s BackendStats) int64 { return s.Failed }),
		counter("requests_retried_total", "Backend request retries.", func(s BackendStats) int64 { return s.Retried }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "backend",
			Name:        "circuit_open",
			Help:        "1 while the backend circuit breaker is open.",
			ConstLabels: labels,
		}, func() float64 { return float64(snapshot().CircuitOpen) }),
	)
}

// IncrementInFlight increments the in-flight HTTP gauge.
func (m *Metrics) IncrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// DecrementInFlight decrements the in-flight HTTP gauge.
func (m *Metrics) DecrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
}

// RecordHTTPRequest records a completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordToggle records a toggle outcome ("on", "off", "failed", "busy").
func (m *Metrics) RecordToggle(kind, outcome string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(kind, outcome).Inc()
}

// RecordCascadeFailure records one failed follow deletion.
func (m *Metrics) RecordCascadeFailure(direction string) {
	if m == nil {
		return
	}
	m.cascadeFails.WithLabelValues(direction).Inc()
}

// RecordRepair records a repair attempt and the remaining queue length.
func (m *Metrics) RecordRepair(outcome string, pending int) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(outcome).Inc()
	m.repairPending.Set(float64(pending))
}

// RecordAssemble records a page assembly and how many items filtering removed.
func (m *Metrics) RecordAssemble(source string, duration time.Duration, dropped int) {
	if m == nil {
		return
	}
	m.assembled.WithLabelValues(source).Observe(duration.Seconds())
	if dropped > 0 {
		m.dropped.WithLabelValues(source).Add(float64(dropped))
	}
}

// RecordAggregate records a stats aggregation.
func (m *Metrics) RecordAggregate(duration time.Duration) {
	if m == nil {
		return
	}
	m.aggregated.Observe(duration.Seconds())
}

// RecordTrackerEvent records an unread tracker refresh.
func (m *Metrics) RecordTrackerEvent(trigger, outcome string) {
	if m == nil {
		return
	}
	m.trackerEvents.WithLabelValues(trigger, outcome).Inc()
}

// RecordCacheLookup records an exclusion cache "hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
