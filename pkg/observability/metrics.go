package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Bus metrics (outbound calls and inbound dispatches)
	BusCallsTotal      *prometheus.CounterVec
	BusCallDuration    *prometheus.HistogramVec
	BusDispatchesTotal *prometheus.CounterVec
	BusEmitsTotal      *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axion_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		BusCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_bus_calls_total",
				Help: "Total number of outbound bus calls",
			},
			[]string{"call", "status"},
		),
		BusCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axion_bus_call_duration_seconds",
				Help:    "Outbound bus call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"call"},
		),
		BusDispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_bus_dispatches_total",
				Help: "Total number of inbound bus dispatches",
			},
			[]string{"module", "function", "status"},
		),
		BusEmitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_bus_emits_total",
				Help: "Total number of fire-and-forget bus notifications",
			},
			[]string{"call", "status"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_store_operations_total",
				Help: "Total number of document store operations",
			},
			[]string{"operation", "collection", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axion_store_operation_duration_seconds",
				Help:    "Document store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "collection"},
		),

		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axion_auth_rejections_total",
				Help: "Total number of requests rejected by the authorization pipeline",
			},
			[]string{"stage", "reason"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BusCallsTotal,
		m.BusCallDuration,
		m.BusDispatchesTotal,
		m.BusEmitsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.AuthRejectionsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns an http.Handler serving the metrics registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
