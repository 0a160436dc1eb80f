package monitoring

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the interstitial coordinator
var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Coordinator metrics
	InterstitialRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interstitial_requests_total",
			Help: "Total number of interstitial requests by operation and outcome code",
		},
		[]string{"operation", "code"},
	)

	InterstitialRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interstitial_request_duration_seconds",
			Help:    "Time from request submission to settlement",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	ProviderEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interstitial_provider_events_total",
			Help: "Total number of provider events received",
		},
		[]string{"event", "stale"},
	)

	CoordinatorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interstitial_coordinator_state",
			Help: "1 for the state the coordinator is currently in, 0 otherwise",
		},
		[]string{"state"},
	)

	HandlesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interstitial_handles_created_total",
			Help: "Total number of provider handles created",
		},
	)

	HandlesDestroyedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interstitial_handles_destroyed_total",
			Help: "Total number of provider handles destroyed",
		},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query execution time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"query_type", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"error_type", "table"},
	)

	// Redis metrics
	RedisCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Redis command execution time",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"command"},
	)

	RedisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"error_type"},
	)
)

// MetricsMiddleware creates a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		// Normalize path to avoid high cardinality
		normalizedPath := normalizePath(path)

		HTTPRequestsTotal.WithLabelValues(method, normalizedPath, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, normalizedPath, status).Observe(duration)
	}
}

// normalizePath reduces cardinality by grouping similar paths
func normalizePath(path string) string {
	switch {
	case path == "/" || path == "/health" || path == "/ready" || path == "/metrics":
		return path
	case strings.HasPrefix(path, "/api/v1/interstitial/"), path == "/api/v1/host/teardown":
		return path
	case path == "/api/v1/operations":
		return path
	case strings.HasPrefix(path, "/api/v1/operations/"):
		return "/api/v1/operations/{id}"
	}
	return "/other"
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records a settled interstitial request
func RecordRequest(operation, code string, duration time.Duration) {
	InterstitialRequestsTotal.WithLabelValues(operation, code).Inc()
	InterstitialRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(queryType, table string, duration time.Duration, err error) {
	DatabaseQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
	if err != nil {
		DatabaseErrorsTotal.WithLabelValues("query_error", table).Inc()
	}
}

// RecordRedisCommand records Redis command metrics
func RecordRedisCommand(command string, duration time.Duration, err error) {
	RedisCommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	if err != nil {
		RedisErrorsTotal.WithLabelValues("command_error").Inc()
	}
}
