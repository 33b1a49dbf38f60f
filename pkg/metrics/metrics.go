package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Sync metrics
	SyncRunsTotal      *prometheus.CounterVec
	SyncRunDuration    *prometheus.HistogramVec
	SyncRunsInProgress prometheus.Gauge
	RecordsProcessed   *prometheus.CounterVec
	RecordsPruned      *prometheus.CounterVec
	RecordsFailed      *prometheus.CounterVec

	// External API metrics
	ExternalAPICalls    *prometheus.CounterVec
	ExternalAPIDuration *prometheus.HistogramVec
	ExternalAPIFailures *prometheus.CounterVec

	// Image and brand metrics
	ImageCacheResults *prometheus.CounterVec
	BrandLookups      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_runs_total",
				Help: "Total number of network sync runs",
			},
			[]string{"network", "status"},
		),

		SyncRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_run_duration_seconds",
				Help:    "Network sync run duration in seconds",
				Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"network"},
		),

		SyncRunsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_runs_in_progress",
				Help: "Number of sync runs currently in progress",
			},
		),

		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_processed_total",
				Help: "Records upserted by sync, by outcome",
			},
			[]string{"network", "collection", "status"},
		),

		RecordsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_pruned_total",
				Help: "Records deleted by pruning",
			},
			[]string{"network", "collection"},
		),

		RecordsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_failed_total",
				Help: "Records or units that failed processing",
			},
			[]string{"network", "error_type"},
		),

		ExternalAPICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of external API calls",
			},
			[]string{"api", "status"},
		),

		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		ExternalAPIFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_failures_total",
				Help: "Total number of external API failures",
			},
			[]string{"api", "error_type"},
		),

		ImageCacheResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "image_cache_results_total",
				Help: "Image cache outcomes (hit, stored, failed, fallback)",
			},
			[]string{"result"},
		),

		BrandLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brand_lookups_total",
				Help: "Third-party brand logo lookups",
			},
			[]string{"result"},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Sync run metrics
func (m *Metrics) RecordSyncRun(network, status string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(network, status).Inc()
	m.SyncRunDuration.WithLabelValues(network).Observe(duration.Seconds())
}

func (m *Metrics) RecordRecord(network, collection, status string) {
	m.RecordsProcessed.WithLabelValues(network, collection, status).Inc()
}

func (m *Metrics) RecordPruned(network, collection string, count int) {
	m.RecordsPruned.WithLabelValues(network, collection).Add(float64(count))
}

func (m *Metrics) RecordFailure(network, errorType string) {
	m.RecordsFailed.WithLabelValues(network, errorType).Inc()
}

// External API call metrics
func (m *Metrics) RecordExternalAPICall(api, status string, duration time.Duration) {
	m.ExternalAPICalls.WithLabelValues(api, status).Inc()
	m.ExternalAPIDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// External API failure metrics
func (m *Metrics) RecordExternalAPIFailure(api, errorType string) {
	m.ExternalAPIFailures.WithLabelValues(api, errorType).Inc()
}

func (m *Metrics) RecordImageCache(result string) {
	m.ImageCacheResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBrandLookup(result string) {
	m.BrandLookups.WithLabelValues(result).Inc()
}

// Sync runs in progress counter
func (m *Metrics) IncSyncRunsInProgress() {
	m.SyncRunsInProgress.Inc()
}

// Sync runs in progress counter
func (m *Metrics) DecSyncRunsInProgress() {
	m.SyncRunsInProgress.Dec()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
