// Package metrics exposes Prometheus collectors for the ingestion service.
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

// Fetch outcomes recorded by ObserveFetch.
const (
	FetchOK          = "ok"
	FetchRateLimited = "rate_limited"
	FetchStatus      = "status"
	FetchTransport   = "transport"
)

var (
	fetchTotal                 *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	labelingInconsistencies    prometheus.Counter
	batchesTotal               *prometheus.CounterVec
	batchDurationSeconds       prometheus.Histogram
	vacanciesPersistedTotal    *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vacancy_fetch_total",
				Help: "Fetch attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vacancy_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host limiter or a 429 backoff.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		labelingInconsistencies = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vacancy_labeling_inconsistencies_total",
				Help: "Inside-skill labels that did not continue a started phrase.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vacancy_batches_total",
				Help: "Pipeline batches processed, labeled by status.",
			},
			[]string{"status"},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vacancy_batch_duration_seconds",
				Help:    "Wall time of a pipeline batch.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		vacanciesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vacancy_persisted_total",
				Help: "Vacancies returned by the store, labeled by whether they were newly inserted.",
			},
			[]string{"kind"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vacancy_runs_total",
				Help: "Background runs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vacancy_active_workers",
				Help: "Number of workers currently executing a run.",
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveFetch counts one fetch attempt against the URL's host.
func ObserveFetch(rawURL, outcome string) {
	Init()
	fetchTotal.WithLabelValues(SanitizeHost(rawURL), outcome).Inc()
}

// ObserveRateLimitDelay records time spent waiting before a fetch attempt.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveLabelingInconsistency counts one discarded inside-skill word.
func ObserveLabelingInconsistency() {
	Init()
	labelingInconsistencies.Inc()
}

// ObserveBatch records a finished pipeline batch.
func ObserveBatch(status string, duration time.Duration) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObservePersisted counts stored vacancies split into new and existing rows.
func ObservePersisted(inserted, existing int) {
	Init()
	if inserted > 0 {
		vacanciesPersistedTotal.WithLabelValues("new").Add(float64(inserted))
	}
	if existing > 0 {
		vacanciesPersistedTotal.WithLabelValues("existing").Add(float64(existing))
	}
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
