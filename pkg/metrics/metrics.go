// Package metrics provides Prometheus metrics for the reviewer discovery service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCacheHit = "cache_hit"
	OutcomeCanceled = "canceled"
)

// Manager owns the discovery metrics.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	searchRequests   *prometheus.CounterVec
	searchLatency    *prometheus.HistogramVec
	searchArticles   *prometheus.CounterVec
	reasoningBatches *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	candidates       *prometheus.CounterVec
	coiFlagged       prometheus.Counter
	httpRequests     *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers metrics on the given registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

var global = NewManager(WithRegistry(customRegistry)) //nolint:gochecknoglobals // singleton manager

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "reviewscout",
		subsystem:        "discovery",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.searchRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "search_requests_total",
		Help:      "Bibliographic index calls by index and outcome",
	}, []string{"index", "outcome"})

	m.searchLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "search_latency_seconds",
		Help:      "Latency of bibliographic index calls",
		Buckets:   m.histogramBuckets,
	}, []string{"index"})

	m.searchArticles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "search_articles_total",
		Help:      "Articles returned by bibliographic index calls",
	}, []string{"index"})

	m.reasoningBatches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reasoning_batches_total",
		Help:      "Reasoning enhancement batches by outcome",
	}, []string{"outcome"})

	m.llmLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "llm_latency_seconds",
		Help:      "Latency of text-generation calls by stage",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Discovery runs by outcome",
	}, []string{"outcome"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of completed discovery runs",
		Buckets:   m.histogramBuckets,
	})

	m.candidates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_total",
		Help:      "Candidates produced by verification status",
	}, []string{"status"})

	m.coiFlagged = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coi_flagged_total",
		Help:      "Candidates flagged for co-authorship conflict of interest",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint and status code",
	}, []string{"endpoint", "code"})
}

// Registry returns the registry the manager writes to.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// RecordSearch records one index call.
func (m *Manager) RecordSearch(index, outcome string, duration time.Duration, articles int) {
	m.searchRequests.WithLabelValues(index, outcome).Inc()
	if outcome == OutcomeCacheHit {
		return
	}
	m.searchLatency.WithLabelValues(index).Observe(duration.Seconds())
	if articles > 0 {
		m.searchArticles.WithLabelValues(index).Add(float64(articles))
	}
}

// RecordReasoningBatch records one reasoning batch outcome.
func (m *Manager) RecordReasoningBatch(ok bool) {
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.reasoningBatches.WithLabelValues(outcome).Inc()
}

// RecordLLMLatency records a text-generation call.
func (m *Manager) RecordLLMLatency(stage string, duration time.Duration) {
	m.llmLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRun records a finished discovery run.
func (m *Manager) RecordRun(outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.runDuration.Observe(duration.Seconds())
	}
}

// RecordCandidates adds n candidates of the given status.
func (m *Manager) RecordCandidates(status string, n int) {
	if n > 0 {
		m.candidates.WithLabelValues(status).Add(float64(n))
	}
}

// RecordCOIFlagged adds n flagged candidates.
func (m *Manager) RecordCOIFlagged(n int) {
	if n > 0 {
		m.coiFlagged.Add(float64(n))
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, code string) {
	m.httpRequests.WithLabelValues(endpoint, code).Inc()
}

// Handler exposes the manager's registry over HTTP.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package-level helpers writing to the global manager.

func RecordSearch(index, outcome string, duration time.Duration, articles int) {
	global.RecordSearch(index, outcome, duration, articles)
}

func RecordReasoningBatch(ok bool) { global.RecordReasoningBatch(ok) }

func RecordLLMLatency(stage string, duration time.Duration) {
	global.RecordLLMLatency(stage, duration)
}

func RecordRun(outcome string, duration time.Duration) { global.RecordRun(outcome, duration) }

func RecordCandidates(status string, n int) { global.RecordCandidates(status, n) }

func RecordCOIFlagged(n int) { global.RecordCOIFlagged(n) }

func RecordHTTPRequest(endpoint, code string) { global.RecordHTTPRequest(endpoint, code) }

// Handler serves the global registry.
func Handler() http.Handler { return global.Handler() }

// GetRegistry returns the global registry.
func GetRegistry() *prometheus.Registry { return customRegistry }
