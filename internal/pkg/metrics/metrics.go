package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnhub"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheOps        *prometheus.CounterVec
	cacheInvalidate prometheus.Counter
	sessionOps      *prometheus.CounterVec
	sessionEvicted  prometheus.Counter
	tokenRefresh    *prometheus.CounterVec
	tasks           *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		cacheInvalidate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_keys_total",
			Help:      "Keys removed by pattern invalidation.",
		}),
		sessionOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Session registry operations.",
		}, []string{"operation"}),
		sessionEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Sessions evicted by the device cap.",
		}),
		tokenRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"status"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background tasks by type and outcome.",
		}, []string{"type", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP responses by method and status.",
		}, []string{"method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheOps.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheOps.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) CacheInvalidated(n int64) {
	if m != nil && n > 0 {
		m.cacheInvalidate.Add(float64(n))
	}
}

func (m *Metrics) SessionOp(op string) {
	if m != nil {
		m.sessionOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SessionEvicted(n int) {
	if m != nil && n > 0 {
		m.sessionEvicted.Add(float64(n))
	}
}

func (m *Metrics) TokenRefresh(status string) {
	if m != nil {
		m.tokenRefresh.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Task(taskType, status string) {
	if m != nil {
		m.tasks.WithLabelValues(taskType, status).Inc()
	}
}

func (m *Metrics) HTTPRequest(method, status string, d time.Duration) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, status).Inc()
		m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
