package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

// WorkerMetrics instruments the pipeline worker.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	runsInFlight       prometheus.Gauge
	stageFailuresTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoicepilot",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total completed pipeline runs by outcome status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "invoicepilot",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds by outcome status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "invoicepilot",
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoicepilot",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total failed runs by terminal stage.",
		},
		[]string{"service", "stage"},
	)
	registry.MustRegister(runsTotal, runDuration, runsInFlight, stageFailuresTotal)

	return &WorkerMetrics{
		registry:           registry,
		service:            service,
		runsTotal:          runsTotal,
		runDuration:        runDuration,
		runsInFlight:       runsInFlight,
		stageFailuresTotal: stageFailuresTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *WorkerMetrics) FinishRun(duration time.Duration, outcome domain.ProcessingOutcome) {
	m.runsInFlight.Dec()

	status := string(outcome.Status)
	if status == "" {
		status = "unknown"
	}
	m.runsTotal.WithLabelValues(m.service, status).Inc()
	m.runDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())

	if stage := outcome.FailureStage(); stage != "" {
		m.stageFailuresTotal.WithLabelValues(m.service, string(stage)).Inc()
	}
}
