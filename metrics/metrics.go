// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the pipeline records into, attached to its
// own registry so construction is repeatable.
type Metrics struct {
	registry        *prometheus.Registry
	runsTotal       *prometheus.CounterVec
	iterationsTotal prometheus.Counter
	runDuration     prometheus.Histogram
	webhooksTotal   *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	stageErrors     *prometheus.CounterVec
	bestScore       prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagent_runs_total",
			Help: "Completed pipeline runs by terminal status",
		}, []string{"status"}),
		iterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagent_iterations_total",
			Help: "Pipeline iterations executed",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagent_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagent_webhooks_total",
			Help: "Webhook deliveries by disposition",
		}, []string{"disposition"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagent_active_runs",
			Help: "Pipeline runs currently in flight",
		}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagent_stage_errors_total",
			Help: "Aborted iterations by pipeline stage",
		}, []string{"stage"}),
		bestScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagent_best_score",
			Help:    "Best validation score per iteration",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.runsTotal,
		m.iterationsTotal,
		m.runDuration,
		m.webhooksTotal,
		m.activeRuns,
		m.stageErrors,
		m.bestScore,
	)
	return m
}

// Handler serves this instance's exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted marks a pipeline run as in flight.
func (m *Metrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished records a run's terminal status and duration.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// IterationDone records one completed iteration and its best score.
func (m *Metrics) IterationDone(bestScore int) {
	m.iterationsTotal.Inc()
	m.bestScore.Observe(float64(bestScore))
}

// Webhook records a webhook delivery disposition (accepted, duplicate,
// busy, ignored, rejected).
func (m *Metrics) Webhook(disposition string) {
	m.webhooksTotal.WithLabelValues(disposition).Inc()
}

// StageError records an iteration aborted by the named pipeline stage
// (enhance, generate, validate).
func (m *Metrics) StageError(stage string) {
	m.stageErrors.WithLabelValues(stage).Inc()
}
