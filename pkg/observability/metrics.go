package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Decision metrics
	AuthorizeTotal    *prometheus.CounterVec
	AuthorizeDuration *prometheus.HistogramVec
	AuthorizePanics   prometheus.Counter

	// Audit metrics
	AuditWriteFailuresTotal prometheus.Counter
	AuditDroppedTotal       prometheus.Counter

	// Rule cache metrics
	RuleCacheHitsTotal          *prometheus.CounterVec
	RuleCacheMissesTotal        prometheus.Counter
	RuleCacheInvalidationsTotal prometheus.Counter

	// Management metrics
	RuleMutationsTotal       *prometheus.CounterVec
	InheritanceCyclesCurrent *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetperm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetperm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetperm_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
		AuthorizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetperm_authorize_total",
				Help: "Authorization decisions by result and target type",
			},
			[]string{"result", "target_type"},
		),
		AuthorizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetperm_authorize_duration_seconds",
				Help:    "Time spent producing an authorization decision",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"target_type"},
		),
		AuthorizePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetperm_authorize_panics_total",
			Help: "Panics recovered while authorizing",
		}),
		AuditWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetperm_audit_write_failures_total",
			Help: "Audit entries the recorder failed to persist",
		}),
		AuditDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetperm_audit_dropped_total",
			Help: "Audit entries dropped because the buffer was full",
		}),
		RuleCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetperm_rule_cache_hits_total",
				Help: "Rule cache hits by tier",
			},
			[]string{"tier"},
		),
		RuleCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetperm_rule_cache_misses_total",
			Help: "Rule cache misses that fell through to the store",
		}),
		RuleCacheInvalidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetperm_rule_cache_invalidations_total",
			Help: "Tenant cache invalidations caused by writes",
		}),
		RuleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetperm_rule_mutations_total",
				Help: "Rule management operations by operation, target type and result",
			},
			[]string{"operation", "target_type", "result"},
		),
		InheritanceCyclesCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assetperm_inheritance_cycles",
				Help: "Inheritance cycles found by the last scheduled scan",
			},
			[]string{"organization_id"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthorizeTotal,
		m.AuthorizeDuration,
		m.AuthorizePanics,
		m.AuditWriteFailuresTotal,
		m.AuditDroppedTotal,
		m.RuleCacheHitsTotal,
		m.RuleCacheMissesTotal,
		m.RuleCacheInvalidationsTotal,
		m.RuleMutationsTotal,
		m.InheritanceCyclesCurrent,
	)

	return m
}

// ObserveAuthorize records one decision
func (m *Metrics) ObserveAuthorize(targetType string, allowed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AuthorizeTotal.WithLabelValues(result, targetType).Inc()
	m.AuthorizeDuration.WithLabelValues(targetType).Observe(d.Seconds())
}

// IncAuthorizePanic counts a recovered panic
func (m *Metrics) IncAuthorizePanic() {
	if m != nil {
		m.AuthorizePanics.Inc()
	}
}

// IncAuditWriteFailure counts an audit entry that could not be stored
func (m *Metrics) IncAuditWriteFailure() {
	if m != nil {
		m.AuditWriteFailuresTotal.Inc()
	}
}

// IncAuditDropped counts an audit entry dropped on overflow
func (m *Metrics) IncAuditDropped() {
	if m != nil {
		m.AuditDroppedTotal.Inc()
	}
}

// IncCacheHit counts a hit on the given tier ("l1" or "l2")
func (m *Metrics) IncCacheHit(tier string) {
	if m != nil {
		m.RuleCacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

// IncCacheMiss counts a load from the backing store
func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.RuleCacheMissesTotal.Inc()
	}
}

// IncCacheInvalidation counts a tenant invalidation
func (m *Metrics) IncCacheInvalidation() {
	if m != nil {
		m.RuleCacheInvalidationsTotal.Inc()
	}
}

// IncRuleMutation counts a management operation
func (m *Metrics) IncRuleMutation(operation, targetType string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RuleMutationsTotal.WithLabelValues(operation, targetType, result).Inc()
}

// SetInheritanceCycles publishes the number of cycles found for a tenant
func (m *Metrics) SetInheritanceCycles(org string, n int) {
	if m != nil {
		m.InheritanceCyclesCurrent.WithLabelValues(org).Set(float64(n))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so that path parameters do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// It is meant to be installed with mux.Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
