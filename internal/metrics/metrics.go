// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EvaluationsTotal counts completed evaluations by decision.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "evaluations_total",
			Help:      "Total transaction evaluations by decision.",
		},
		[]string{"decision"},
	)

	// EvaluationDuration observes total evaluation latency.
	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "evaluation_duration_seconds",
		Help:      "End-to-end evaluation latency in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// StageDuration observes per-stage latency within an evaluation.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "evaluation_stage_duration_seconds",
			Help:      "Evaluation stage latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"stage"},
	)

	// RulesTriggeredTotal counts rule firings by rule id.
	RulesTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "rules_triggered_total",
			Help:      "Total rule firings by rule id.",
		},
		[]string{"rule_id"},
	)

	// RuleErrorsTotal counts contained rule evaluation failures by rule id.
	RuleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "rule_errors_total",
			Help:      "Total contained rule evaluation failures by rule id.",
		},
		[]string{"rule_id"},
	)

	// ChainFindingsTotal counts chain findings by pattern.
	ChainFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "chain_findings_total",
			Help:      "Total chain findings by pattern.",
		},
		[]string{"pattern"},
	)

	// IncompleteEvaluationsTotal counts evaluations that degraded to an
	// incomplete snapshot or chain analysis.
	IncompleteEvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "incomplete_evaluations_total",
		Help:      "Total evaluations that fell back to fail-closed manual review.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EvaluationsTotal,
		EvaluationDuration,
		StageDuration,
		RulesTriggeredTotal,
		RuleErrorsTotal,
		ChainFindingsTotal,
		IncompleteEvaluationsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics
// endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
