// Package metrics exposes Prometheus collectors for the archive scraper.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Range outcome labels.
const (
	RangeCollected = "collected"
	RangeSkipped   = "skipped"
	RangeFailed    = "failed"
)

var (
	archivePagesTotal           prometheus.Counter
	archiveRowsTotal            prometheus.Counter
	archivePageLoadSeconds      prometheus.Histogram
	archiveRangesTotal          *prometheus.CounterVec
	archiveCheckpointBytesTotal prometheus.Counter
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archivePagesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "archive_pages_total",
			Help: "Total number of archive result pages parsed.",
		})
		archiveRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "archive_rows_total",
			Help: "Total number of archive rows extracted.",
		})
		archivePageLoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_page_load_seconds",
			Help:    "Histogram of next-page navigation latencies.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		})
		archiveRangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_ranges_total",
				Help: "Total number of date ranges processed, labeled by outcome.",
			},
			[]string{"status"},
		)
		archiveCheckpointBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "archive_checkpoint_bytes_total",
			Help: "Total bytes written to checkpoints.",
		})
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

// WriteTextfile writes the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// ObservePage records one parsed page and its row count.
func ObservePage(rows int) {
	Init()
	archivePagesTotal.Inc()
	if rows > 0 {
		archiveRowsTotal.Add(float64(rows))
	}
}

// ObservePageLoad records the latency of a next-page navigation.
func ObservePageLoad(d time.Duration) {
	Init()
	archivePageLoadSeconds.Observe(d.Seconds())
}

// ObserveRange increments the range counter for the given outcome.
func ObserveRange(status string) {
	Init()
	archiveRangesTotal.WithLabelValues(status).Inc()
}

// ObserveCheckpoint records the size of a written checkpoint.
func ObserveCheckpoint(bytes int) {
	Init()
	archiveCheckpointBytesTotal.Add(float64(bytes))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
