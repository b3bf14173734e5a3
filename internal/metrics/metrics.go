// Package metrics exposes Prometheus collectors for the report service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeJobsTotal            *prometheus.CounterVec
	scrapeJobDurationSeconds   *prometheus.HistogramVec
	scrapeActiveJobs           prometheus.Gauge
	reportsCollectedTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total number of scrape jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrapeJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_job_duration_seconds",
				Help:    "Histogram of scrape job wall-clock durations, labeled by outcome.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"outcome"},
		)

		scrapeActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_jobs",
				Help: "Number of scrape jobs currently holding a concurrency slot.",
			},
		)

		reportsCollectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reports_collected_total",
				Help: "Total number of report records upserted by the collector.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records one finished job with its outcome and duration.
func ObserveJob(outcome string, duration time.Duration) {
	scrapeJobsTotal.WithLabelValues(outcome).Inc()
	scrapeJobDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveReportsCollected adds to the collected-reports counter.
func ObserveReportsCollected(n int) {
	if n > 0 {
		reportsCollectedTotal.Add(float64(n))
	}
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	scrapeActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	scrapeActiveJobs.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
