// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeHTTPError = "http_error"
	OutcomeError     = "error"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	transitionsTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	duplicatesRemovedTotal     prometheus.Counter
	harvestsTotal              *prometheus.CounterVec
	activeHarvests             prometheus.Gauge
	handoffFailuresTotal       prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of listing fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of listing fetch latencies, labeled by site.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"site"},
		)

		transitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_transitions_total",
				Help: "State machine decisions, labeled by action.",
			},
			[]string{"action"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Review records seen by the extractor, labeled by result (extracted|skipped).",
			},
			[]string{"result"},
		)

		duplicatesRemovedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_duplicates_removed_total",
				Help: "Rows deleted by post-harvest deduplication.",
			},
		)

		harvestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_harvests_total",
				Help: "Total number of finished harvests, labeled by status.",
			},
			[]string{"status"},
		)

		activeHarvests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_harvests",
				Help: "Number of harvests currently running.",
			},
		)

		handoffFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_handoff_failures_total",
				Help: "Exports or notifications that could not be delivered.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// FetchOutcome classifies a fetch result for the outcome label.
func FetchOutcome(page harvest.Page, err error) string {
	var statusErr *harvest.StatusError
	switch {
	case errors.As(err, &statusErr):
		return OutcomeHTTPError
	case err != nil:
		return OutcomeError
	case page.StatusCode == http.StatusNotFound:
		return OutcomeNotFound
	default:
		return OutcomeOK
	}
}

// ObserveFetch records one scheduler fetch.
func ObserveFetch(rawURL string, page harvest.Page, err error) {
	Init()
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, FetchOutcome(page, err)).Inc()
	if page.Duration > 0 {
		fetchDurationSeconds.WithLabelValues(site).Observe(page.Duration.Seconds())
	}
}

// ObserveTransition counts a state machine decision.
func ObserveTransition(action harvest.Action) {
	Init()
	transitionsTotal.WithLabelValues(string(action)).Inc()
}

// ObserveRecords counts extracted and skipped records of one page.
func ObserveRecords(extracted, skipped int) {
	Init()
	if extracted > 0 {
		recordsTotal.WithLabelValues("extracted").Add(float64(extracted))
	}
	if skipped > 0 {
		recordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// ObserveHarvest counts a finished harvest and its deduplicated rows.
func ObserveHarvest(status string, duplicatesRemoved int64) {
	Init()
	harvestsTotal.WithLabelValues(status).Inc()
	if duplicatesRemoved > 0 {
		duplicatesRemovedTotal.Add(float64(duplicatesRemoved))
	}
}

// ObserveHandoffFailure counts an export that could not be delivered.
func ObserveHandoffFailure() {
	Init()
	handoffFailuresTotal.Inc()
}

// IncActiveHarvests increments the active harvests gauge.
func IncActiveHarvests() {
	Init()
	activeHarvests.Inc()
}

// DecActiveHarvests decrements the active harvests gauge.
func DecActiveHarvests() {
	Init()
	activeHarvests.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
