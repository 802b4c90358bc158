// Package observability exports Prometheus metrics for pipeline runs,
// extraction attempts, fetches, and LLM stages.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lloydsdigest/internal/core"
)

const namespace = "lloydsdigest"

// Metrics holds every collector. Each Metrics owns its registry, so several
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	ExtractionAttempts *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec

	FetchRequests *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	LLMCalls    *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec

	Candidates  *prometheus.CounterVec
	DigestItems prometheus.Gauge
	RunDuration prometheus.Histogram
	RunCoverage prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ExtractionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_attempts_total",
			Help:      "Extraction attempts by method and decision",
		}, []string{"method", "decision"}),
		ExtractionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent in a single extractor",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method"}),
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Fetches by outcome (ok, cached, error)",
		}, []string{"outcome"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch one URL including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_stage_calls_total",
			Help:      "LLM stage calls by stage and outcome (ok, cached, error)",
		}, []string{"stage", "outcome"}),
		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_stage_duration_seconds",
			Help:      "LLM stage latency",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates by pipeline outcome",
		}, []string{"outcome"}),
		DigestItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "digest_items",
			Help:      "Items in the most recent digest",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
		RunCoverage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_coverage_ratio",
			Help:      "Extracted over total candidates for the most recent run",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAttempt records one extraction attempt.
func (m *Metrics) ObserveAttempt(method string, decision core.Decision, duration time.Duration) {
	m.ExtractionAttempts.WithLabelValues(method, string(decision)).Inc()
	m.ExtractionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveStage records one LLM stage call.
func (m *Metrics) ObserveStage(stage string, cached bool, err error, latency time.Duration) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case cached:
		outcome = "cached"
	}
	m.LLMCalls.WithLabelValues(stage, outcome).Inc()
	m.LLMDuration.WithLabelValues(stage).Observe(latency.Seconds())
}

// ObserveFetch records one fetch.
func (m *Metrics) ObserveFetch(fromCache bool, err error, duration time.Duration) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case fromCache:
		outcome = "cached"
	}
	m.FetchRequests.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// Candidate outcomes.
const (
	OutcomeDiscovered = "discovered"
	OutcomeSkipped    = "skipped"
	OutcomeFetchError = "fetch_error"
	OutcomeNoArticle  = "no_article"
	OutcomeRejected   = "rejected"
	OutcomeAccepted   = "accepted"
)

// CountCandidate increments the counter for one candidate outcome.
func (m *Metrics) CountCandidate(outcome string) {
	m.Candidates.WithLabelValues(outcome).Inc()
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(duration time.Duration, coverage float64, digestItems int) {
	m.RunDuration.Observe(duration.Seconds())
	m.RunCoverage.Set(coverage)
	m.DigestItems.Set(float64(digestItems))
}
