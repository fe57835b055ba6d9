// Package metrics exposes Prometheus collectors for the crawler and sanitizer.
// Both commands are batch jobs, so collectors are exported either to a
// node_exporter textfile or pushed to a Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	crawlerSubstitutionsTotal     *prometheus.CounterVec
	crawlerItemsTotal             prometheus.Counter
	crawlerRowsFlushedTotal       prometheus.Counter
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	sanitizerRowsTotal            *prometheus.CounterVec
	sanitizerColumns              *prometheus.GaugeVec
	sanitizerDurationSeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of page fetch attempts, labeled by page kind and status.",
			},
			[]string{"kind", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by page kind.",
			},
			[]string{"kind"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of retried requests, labeled by page kind and status.",
			},
			[]string{"kind", "status"},
		)

		crawlerSubstitutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_missing_page_substitutions_total",
				Help: "Sub-pages that were missing and replaced with empty values.",
			},
			[]string{"kind"},
		)

		crawlerItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Total number of games scraped.",
			},
		)

		crawlerRowsFlushedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_rows_flushed_total",
				Help: "Total number of raw rows written to disk.",
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		sanitizerRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sanitizer_rows_total",
				Help: "Rows seen by the sanitizer, labeled by result (kept or dropped).",
			},
			[]string{"result"},
		)

		sanitizerColumns = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sanitizer_columns",
				Help: "Number of columns in the refined dataset, labeled by group.",
			},
			[]string{"group"},
		)

		sanitizerDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sanitizer_duration_seconds",
				Help:    "Wall time of a sanitize run.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60},
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

func statusLabel(code int, err error) string {
	switch {
	case code > 0:
		return strconv.Itoa(code)
	case err != nil:
		return "error"
	default:
		return "unknown"
	}
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(kind string, code int, err error, bytesFetched int) {
	Init()
	crawlerFetchesTotal.WithLabelValues(kind, statusLabel(code, err)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
}

// ObserveRetry records a retried request.
func ObserveRetry(kind string, code int) {
	Init()
	crawlerRetriesTotal.WithLabelValues(kind, statusLabel(code, nil)).Inc()
}

// ObserveSubstitution records a missing sub-page replaced by empty values.
func ObserveSubstitution(kind string) {
	Init()
	crawlerSubstitutionsTotal.WithLabelValues(kind).Inc()
}

// ObserveItem increments the scraped item counter.
func ObserveItem() {
	Init()
	crawlerItemsTotal.Inc()
}

// ObserveRowsFlushed adds n to the flushed rows counter.
func ObserveRowsFlushed(n int) {
	Init()
	crawlerRowsFlushedTotal.Add(float64(n))
}

// ObserveRun records the outcome of a crawl run.
func ObserveRun(outcome string) {
	Init()
	crawlerRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveSanitize records the result of a sanitize run.
func ObserveSanitize(kept, dropped int, columns map[string]int, duration time.Duration) {
	Init()
	sanitizerRowsTotal.WithLabelValues("kept").Add(float64(kept))
	sanitizerRowsTotal.WithLabelValues("dropped").Add(float64(dropped))
	for group, n := range columns {
		sanitizerColumns.WithLabelValues(group).Set(float64(n))
	}
	sanitizerDurationSeconds.Observe(duration.Seconds())
}

// WriteTextfile dumps all registered metrics in the node_exporter textfile format.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends all registered metrics to a Pushgateway under job.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
