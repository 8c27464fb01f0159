package orchestrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report engine activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts        *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksFinished   *prometheus.CounterVec
	corrections     *prometheus.CounterVec
	workflowsActive prometheus.Gauge
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same names are reused, so several
// engines can share one registry. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "engine",
				Name:      "attempts_total",
				Help:      "Task attempts by role and outcome (accepted, rejected, execution_error).",
			},
			[]string{"role", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskflow",
				Subsystem: "engine",
				Name:      "task_duration_seconds",
				Help:      "Time from a task's first attempt to its terminal status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role", "status"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "engine",
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal status.",
			},
			[]string{"status", "failure"},
		),
		corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "engine",
				Name:      "corrections_total",
				Help:      "Revision requests issued by the correction loop.",
			},
			[]string{"role"},
		),
		workflowsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "engine",
				Name:      "workflows_active",
				Help:      "Number of workflows currently running.",
			},
		),
	}

	m.attempts = register(reg, m.attempts)
	m.taskDuration = register(reg, m.taskDuration)
	m.tasksFinished = register(reg, m.tasksFinished)
	m.corrections = register(reg, m.corrections)
	m.workflowsActive = register(reg, m.workflowsActive)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// ObserveAttempt counts one attempt.
func (m *Metrics) ObserveAttempt(role, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(role, outcome).Inc()
}

// ObserveTaskFinished records a task reaching a terminal status.
func (m *Metrics) ObserveTaskFinished(role, status, failure string, duration time.Duration) {
	if m == nil {
		return
	}
	if failure == "" {
		failure = "none"
	}
	m.tasksFinished.WithLabelValues(status, failure).Inc()
	m.taskDuration.WithLabelValues(role, status).Observe(duration.Seconds())
}

// IncCorrection counts a revision request.
func (m *Metrics) IncCorrection(role string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(role).Inc()
}

// IncActiveWorkflows marks a workflow as running.
func (m *Metrics) IncActiveWorkflows() {
	if m == nil {
		return
	}
	m.workflowsActive.Inc()
}

// DecActiveWorkflows marks a workflow as finished.
func (m *Metrics) DecActiveWorkflows() {
	if m == nil {
		return
	}
	m.workflowsActive.Dec()
}
