package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token lifecycle metrics
	TokenRefreshTotal *prometheus.CounterVec

	// Schema resolution metrics
	SchemaFetchTotal    *prometheus.CounterVec
	SchemaCacheTotal    *prometheus.CounterVec
	SchemaFetchDuration *prometheus.HistogramVec

	// Validation metrics
	ValidationTotal    *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		// HTTP request metrics
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		// Token lifecycle metrics
		TokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total number of access-token refresh attempts",
		}, []string{"status"}),

		// Schema resolution metrics
		SchemaFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schema_fetch_total",
			Help: "Total number of outbound schema fetches",
		}, []string{"endpoint", "status"}),

		SchemaCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schema_cache_total",
			Help: "Schema cache lookups by tier and outcome",
		}, []string{"tier", "outcome"}),

		SchemaFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schema_fetch_duration_seconds",
			Help:    "Outbound schema fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),

		// Validation metrics
		ValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_validation_total",
			Help: "Total number of listing validations by outcome",
		}, []string{"outcome"}),

		ValidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listing_validation_duration_seconds",
			Help:    "Listing validation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.TokenRefreshTotal)
	registerOrGet(m.SchemaFetchTotal)
	registerOrGet(m.SchemaCacheTotal)
	registerOrGet(m.SchemaFetchDuration)
	registerOrGet(m.ValidationTotal)
	registerOrGet(m.ValidationDuration)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
