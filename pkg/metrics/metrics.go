package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ExtractionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_attempts_total",
			Help: "Total number of single extraction attempts.",
		},
		[]string{"status", "error_type"}, // status: success, failure
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Total number of finished extraction retry chains.",
		},
		[]string{"outcome"},
	)

	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Duration of extraction retry chains.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120, 300},
		},
	)

	PoolActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_active_workers",
			Help: "Number of pool workers currently running an extraction.",
		},
	)

	PoolItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_items_processed_total",
			Help: "Total number of items processed by worker pools.",
		},
		[]string{"outcome"},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_total",
			Help: "Total number of batch items that reached a terminal state.",
		},
		[]string{"status"},
	)

	BatchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_total",
			Help: "Total number of batch jobs by lifecycle event.",
		},
		[]string{"status"}, // created, completed, failed, cancelled, cleaned
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_cache_lookups_total",
			Help: "Record cache lookups by result.",
		},
		[]string{"result"}, // hit, miss, error
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. It is safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ExtractionAttemptsTotal,
			ExtractionsTotal,
			ExtractionDuration,
			PoolActiveWorkers,
			PoolItemsProcessed,
			BatchItemsTotal,
			BatchJobsTotal,
			CacheLookups,
		)
	})
}
