// Package metrics exposes Prometheus counters for the analysis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/domain"
)

const namespace = "creditsight"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	evaluations *prometheus.CounterVec
	insights    *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	reports     *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New registers the pipeline collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_evaluations_total",
			Help:      "Condition evaluations by outcome.",
		}, []string{"outcome"}),
		insights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_total",
			Help:      "Insights emitted by severity and rule group.",
		}, []string{"severity", "group"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_pairs_total",
			Help:      "Rule and record pairs that produced no insight, by reason.",
		}, []string{"reason"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Generated reports by risk level.",
		}, []string{"risk_level"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Time spent matching rules for one report.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
	m.registry.MustRegister(
		m.evaluations,
		m.insights,
		m.skipped,
		m.reports,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvaluation counts one evaluator outcome.
func (m *Metrics) ObserveEvaluation(o condition.Outcome) {
	m.evaluations.WithLabelValues(string(o)).Inc()
}

// EvaluationObserver adapts the metrics to the evaluator hook.
func (m *Metrics) EvaluationObserver() condition.Observer {
	return m.ObserveEvaluation
}

// ObserveSkip counts one skipped pair.
func (m *Metrics) ObserveSkip(reason string) {
	m.skipped.WithLabelValues(reason).Inc()
}

// ObserveInsight counts one emitted insight.
func (m *Metrics) ObserveInsight(severity domain.Severity, group domain.RuleGroup) {
	m.insights.WithLabelValues(string(severity), string(group)).Inc()
}

// ObserveReport records a finished report.
func (m *Metrics) ObserveReport(report *domain.Report) {
	m.reports.WithLabelValues(string(report.RiskLevel)).Inc()
	m.duration.Observe(float64(report.Diagnostics.DurationMs) / 1000)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
