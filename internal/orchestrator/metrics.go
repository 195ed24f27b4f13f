package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	PlansCreated      prometheus.Counter
	PlansFinished     *prometheus.CounterVec
	ActivePlans       prometheus.Gauge
	Passes            prometheus.Counter
	PassDuration      prometheus.Histogram
	SubtaskResults    *prometheus.CounterVec
	SubtaskUnassigned prometheus.Counter
	Agents            prometheus.Gauge
	StoreErrors       prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PlansCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_created_total",
				Help:      "Total plans created",
			},
		),
		PlansFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_finished_total",
				Help:      "Total plans that reached a terminal status",
			},
			[]string{"status"},
		),
		ActivePlans: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_plans",
				Help:      "Current number of non-terminal plans",
			},
		),
		Passes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total scheduling passes executed",
			},
		),
		PassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Scheduling pass duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),
		SubtaskResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subtask_results_total",
				Help:      "Total subtask results by status",
			},
			[]string{"status"},
		),
		SubtaskUnassigned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subtask_unassigned_total",
				Help:      "Total subtasks that found no suitable agent",
			},
		),
		Agents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agents",
				Help:      "Current number of agents in the pool",
			},
		),
		StoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total plan persistence failures",
			},
		),
	}
}
