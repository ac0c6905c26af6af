// Package metrics exposes Prometheus counters for classification runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the codebook collectors. A nil *Metrics records nothing.
//
// Metrics:
//   - codebook_runs_total{status} - classification runs by outcome
//   - codebook_run_duration_seconds - time spent waiting on the service
//   - codebook_results_total{kind} - finalized and suggested results
//   - codebook_suggestions_total{decision} - approved and rejected proposals
//   - codebook_parse_failures_total - uploads rejected by the parser
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ResultsTotal       *prometheus.CounterVec
	SuggestionsTotal   *prometheus.CounterVec
	ParseFailuresTotal prometheus.Counter
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codebook_runs_total",
				Help: "Total number of classification runs",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codebook_run_duration_seconds",
				Help:    "Duration of classification service calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
			},
		),
		ResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codebook_results_total",
				Help: "Total number of annotation results produced",
			},
			[]string{"kind"}, // "finalized" or "suggested"
		),
		SuggestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codebook_suggestions_total",
				Help: "Total number of category suggestions reviewed",
			},
			[]string{"decision"}, // "approved" or "rejected"
		),
		ParseFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "codebook_parse_failures_total",
				Help: "Total number of uploads that failed to parse",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished run
func (m *Metrics) RecordRun(status string, elapsed time.Duration, finalized, suggested int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	m.ResultsTotal.WithLabelValues("finalized").Add(float64(finalized))
	m.ResultsTotal.WithLabelValues("suggested").Add(float64(suggested))
}

// RecordDecisions counts the outcome of an approval review
func (m *Metrics) RecordDecisions(approved, rejected int) {
	if m == nil {
		return
	}
	m.SuggestionsTotal.WithLabelValues("approved").Add(float64(approved))
	m.SuggestionsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordParseFailure counts an upload the parser rejected
func (m *Metrics) RecordParseFailure() {
	if m == nil {
		return
	}
	m.ParseFailuresTotal.Inc()
}
