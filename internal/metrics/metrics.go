// Package metrics exposes Prometheus collectors for the listing crawler.
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

var (
	crawlerRunsTotal               *prometheus.CounterVec
	crawlerItemsTotal              *prometheus.CounterVec
	crawlerFetchesTotal            *prometheus.CounterVec
	crawlerExtractionFailuresTotal *prometheus.CounterVec
	crawlerPropertiesAddedTotal    prometheus.Counter
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	crawlerRateLimitDelaySeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_crawler_runs_total",
				Help: "Crawl runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_crawler_items_total",
				Help: "Listings processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_crawler_fetches_total",
				Help: "Outbound page fetches, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		crawlerExtractionFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_crawler_extraction_failures_total",
				Help: "Data island extraction failures, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerPropertiesAddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listing_crawler_properties_added_total",
				Help: "Properties appended to the persisted collection.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listing_crawler_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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
	Init()
	return promhttp.Handler()
}

// ObserveRun counts a finished run ("live", "empty", "fallback", "failed").
func ObserveRun(outcome string) {
	Init()
	crawlerRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveItem counts one processed listing ("enriched", "shallow", "failed").
func ObserveItem(status string) {
	Init()
	crawlerItemsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch counts one page fetch ("search"/"detail", "ok"/"error").
func ObserveFetch(kind, outcome string) {
	Init()
	crawlerFetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveExtractionFailure counts a structural failure by reason.
func ObserveExtractionFailure(reason string) {
	Init()
	crawlerExtractionFailuresTotal.WithLabelValues(reason).Inc()
}

// ObservePropertiesAdded adds n newly persisted properties.
func ObservePropertiesAdded(n int) {
	Init()
	if n > 0 {
		crawlerPropertiesAddedTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
