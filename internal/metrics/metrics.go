// Package metrics exposes Prometheus collectors for plan synthesis, task
// analysis, completion links and background jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cropcare"

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	planGenerations    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	taskAnalyses       *prometheus.CounterVec
	tokenRedemptions   *prometheus.CounterVec
	jobRecords         *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		planGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_generations_total",
			Help:      "Care plans produced, by source (llm or fallback).",
		}, []string{"source"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of text-generation calls, by kind and outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"kind", "outcome"}),
		taskAnalyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_analyses_total",
			Help:      "Task analyses served, by result (cache_hit, llm, fallback).",
		}, []string{"result"}),
		tokenRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_redemptions_total",
			Help:      "Completion link redemptions, by outcome.",
		}, []string{"outcome"}),
		jobRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_records_total",
			Help:      "Records handled by background jobs, by job and result.",
		}, []string{"job", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.planGenerations,
		m.generationDuration,
		m.taskAnalyses,
		m.tokenRedemptions,
		m.jobRecords,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PlanGenerated counts a produced plan.
func (m *Metrics) PlanGenerated(source string) {
	if m == nil {
		return
	}
	m.planGenerations.WithLabelValues(source).Inc()
}

// ObserveGeneration records the latency of one generation call.
func (m *Metrics) ObserveGeneration(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// TaskAnalyzed counts a served analysis.
func (m *Metrics) TaskAnalyzed(result string) {
	if m == nil {
		return
	}
	m.taskAnalyses.WithLabelValues(result).Inc()
}

// TokenRedeemed counts a redemption attempt.
func (m *Metrics) TokenRedeemed(outcome string) {
	if m == nil {
		return
	}
	m.tokenRedemptions.WithLabelValues(outcome).Inc()
}

// JobRecords adds processed and failed record counts for a job run.
func (m *Metrics) JobRecords(job string, processed, failed int) {
	if m == nil {
		return
	}
	m.jobRecords.WithLabelValues(job, "processed").Add(float64(processed))
	m.jobRecords.WithLabelValues(job, "failed").Add(float64(failed))
}
