// Package metrics exposes Prometheus collectors for the crawl coordinator.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detail fetch outcomes.
const (
	DetailFetched   = "fetched"
	DetailDuplicate = "duplicate"
	DetailNull      = "null"
	DetailError     = "error"
)

// Source run outcomes.
const (
	SourceCompleted        = "completed"
	SourceIncomplete       = "incomplete"
	SourceSkippedCompleted = "skipped_completed"
	SourceSkippedLeased    = "skipped_leased"
	SourceFailed           = "failed"
)

var (
	listingPagesTotal          *prometheus.CounterVec
	detailFetchesTotal         *prometheus.CounterVec
	itemsWrittenTotal          *prometheus.CounterVec
	sourcesTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nextrequest_listing_pages_total",
				Help: "Listing pages fetched, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		detailFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nextrequest_detail_fetches_total",
				Help: "Detail lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		itemsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nextrequest_items_written_total",
				Help: "Item records inserted, labeled by source.",
			},
			[]string{"source"},
		)

		sourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nextrequest_sources_total",
				Help: "Source runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nextrequest_active_workers",
				Help: "Number of workers currently crawling a source.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nextrequest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"host"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveListingPage counts one listing request for source.
func ObserveListingPage(source, status string) {
	Init()
	listingPagesTotal.WithLabelValues(SanitizeSite(source), status).Inc()
}

// ObserveDetail counts one detail lookup outcome.
func ObserveDetail(outcome string) {
	Init()
	detailFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveItemsWritten adds n inserted items for source.
func ObserveItemsWritten(source string, n int64) {
	Init()
	if n > 0 {
		itemsWrittenTotal.WithLabelValues(SanitizeSite(source)).Add(float64(n))
	}
}

// ObserveSource counts one source run outcome.
func ObserveSource(outcome string) {
	Init()
	sourcesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(host)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
