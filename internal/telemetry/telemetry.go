// Package telemetry exposes the pipeline's health as Prometheus gauges and
// counters: queue depth per tenant/stage, job outcomes, and scheduler
// fairness slack. Metrics/TLS termination/exporters beyond this registry are
// out of scope (§1); this is the minimal surface the worker pools and
// scheduler touch directly.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"corpusd/internal/model"
)

// Metrics holds the process-wide collectors. Construct one and pass it by
// reference to workers and the scheduler; there is no package-level
// singleton.
type Metrics struct {
	QueueDepth      *prometheus.GaugeVec
	JobsCompleted   *prometheus.CounterVec
	JobsRetried     *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	SchedulerRotations *prometheus.CounterVec
}

// New registers all collectors against reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corpusd",
			Name:      "queue_depth",
			Help:      "Number of jobs (ready or backoff-delayed) in a tenant's per-stage queue.",
		}, []string{"tenant_id", "stage"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Name:      "jobs_completed_total",
			Help:      "Jobs that reached the completed state, by stage.",
		}, []string{"stage"}),
		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Name:      "jobs_retried_total",
			Help:      "Jobs requeued after a transient failure, by stage.",
		}, []string{"stage"}),
		JobsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs that reached the dead state, by stage.",
		}, []string{"stage"}),
		SchedulerRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Name:      "scheduler_rotations_total",
			Help:      "Times the round-robin pointer advanced to a new tenant, by stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.QueueDepth, m.JobsCompleted, m.JobsRetried, m.JobsDeadLettered, m.SchedulerRotations)
	return m
}

func (m *Metrics) ObserveQueueDepth(tenantID string, stage model.Stage, depth float64) {
	m.QueueDepth.WithLabelValues(tenantID, string(stage)).Set(depth)
}

func (m *Metrics) ObserveCompleted(stage model.Stage) {
	m.JobsCompleted.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) ObserveRetried(stage model.Stage) {
	m.JobsRetried.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) ObserveDeadLettered(stage model.Stage) {
	m.JobsDeadLettered.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) ObserveRotation(stage model.Stage) {
	m.SchedulerRotations.WithLabelValues(string(stage)).Inc()
}
