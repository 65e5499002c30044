package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsStarted       *prometheus.CounterVec
	runsFinished      *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	eventsRouted      *prometheus.CounterVec
	targetsDispatched *prometheus.CounterVec
	joinsFired        *prometheus.CounterVec
	scopeFaults       *prometheus.CounterVec
	stepsExecuted     *prometheus.CounterVec
	stepDuration      prometheus.Histogram
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector registers the process metrics on reg.
// A nil reg registers on the default Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_runs_started_total",
				Help: "Total number of runs started",
			},
			[]string{"graph_id"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_runs_finished_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"graph_id", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procflow_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
			},
			[]string{"graph_id"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procflow_active_runs",
				Help: "Number of runs currently in progress",
			},
		),
		eventsRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_events_routed_total",
				Help: "Events routed by outcome (matched, dropped, unmatched)",
			},
			[]string{"outcome"},
		),
		targetsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_targets_dispatched_total",
				Help: "Edge targets applied by kind",
			},
			[]string{"kind"},
		),
		joinsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_joins_fired_total",
				Help: "Join windows that completed a round",
			},
			[]string{"group_id"},
		),
		scopeFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_scope_faults_total",
				Help: "Unhandled runtime errors by kind",
			},
			[]string{"kind"},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procflow_steps_executed_total",
				Help: "Process steps executed by workers",
			},
			[]string{"status"},
		),
		stepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "procflow_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunStarted records a started run
func (c *Collector) RecordRunStarted(graphID string) {
	c.runsStarted.WithLabelValues(graphID).Inc()
}

// RecordRunFinished records a run reaching a terminal status
func (c *Collector) RecordRunFinished(graphID string, status domain.RunStatus, duration time.Duration) {
	c.runsFinished.WithLabelValues(graphID, string(status)).Inc()
	c.runDuration.WithLabelValues(graphID).Observe(duration.Seconds())
}

// RecordEventRouted records the routing outcome of one event
func (c *Collector) RecordEventRouted(outcome string) {
	c.eventsRouted.WithLabelValues(outcome).Inc()
}

// RecordTargetDispatched records an applied edge target
func (c *Collector) RecordTargetDispatched(kind domain.TargetKind) {
	c.targetsDispatched.WithLabelValues(string(kind)).Inc()
}

// RecordJoinFired records a fired edge group
func (c *Collector) RecordJoinFired(groupID string) {
	c.joinsFired.WithLabelValues(groupID).Inc()
}

// RecordScopeFault records an error no handler recovered
func (c *Collector) RecordScopeFault(kind string) {
	c.scopeFaults.WithLabelValues(kind).Inc()
}

// RecordStepExecuted records a step executed by a worker
func (c *Collector) RecordStepExecuted(status string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(status).Inc()
	c.stepDuration.Observe(duration.Seconds())
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveRuns sets the number of runs in progress
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}
