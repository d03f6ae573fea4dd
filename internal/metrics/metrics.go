package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pendle_monitor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pendle_monitor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Upstream Pendle API metrics ────────────────────────────────────────

var (
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total requests issued against the Pendle API per category.",
	}, []string{"category"})

	UpstreamRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "upstream",
		Name:      "rate_limited_total",
		Help:      "Total 429 or budget-exhaustion events per category.",
	}, []string{"category"})

	UpstreamCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "upstream",
		Name:      "cache_total",
		Help:      "Response cache lookups per category and outcome.",
	}, []string{"category", "outcome"})
)

// ── Analysis metrics ───────────────────────────────────────────────────

var (
	MarketsAnalyzedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "analysis",
		Name:      "markets_total",
		Help:      "Markets analyzed per chain and outcome.",
	}, []string{"chain", "status"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pendle_monitor",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "Duration of a full per-chain analysis pass in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"chain"})

	CollectedTransactions = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pendle_monitor",
		Subsystem: "analysis",
		Name:      "collected_transactions",
		Help:      "Transactions collected per market before analysis.",
		Buckets:   []float64{0, 5, 10, 50, 100, 500, 1000, 2000},
	}, []string{"chain"})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"chain"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"chain"})

	AlertsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pendle_monitor",
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Total alerts suppressed by the notification cache.",
	}, []string{"chain"})
)
