package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for cycleline.
type Metrics struct {
	// Status engine
	StatusTransitions *prometheus.CounterVec
	StatusRejections  *prometheus.CounterVec
	CyclesArchived    prometheus.Counter

	// Cycle generation
	CyclesGenerated *prometheus.CounterVec

	// Scheduler
	SchedulerRuns *prometheus.CounterVec

	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		StatusTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycleline_status_transitions_total",
				Help: "Total number of persisted status changes, including rolled-up parents",
			},
			[]string{"kind", "status"},
		),
		StatusRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycleline_status_rejections_total",
				Help: "Total number of rejected status changes by error kind",
			},
			[]string{"kind", "reason"},
		),
		CyclesArchived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cycleline_cycles_archived_total",
				Help: "Total number of cycles moved to history",
			},
		),
		CyclesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycleline_cycles_generated_total",
				Help: "Total number of cycles generated",
			},
			[]string{"trigger"},
		),
		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycleline_scheduler_runs_total",
				Help: "Total number of scheduler passes",
			},
			[]string{"success"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cycleline_operation_duration_seconds",
				Help:    "Engine operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
	}
}

// The record helpers accept a nil receiver so callers can run without
// metrics wired.

func (m *Metrics) Transition(kind, status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Rejection(kind, reason string) {
	if m == nil {
		return
	}
	m.StatusRejections.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) Archived() {
	if m == nil {
		return
	}
	m.CyclesArchived.Inc()
}

func (m *Metrics) Generated(trigger string) {
	if m == nil {
		return
	}
	m.CyclesGenerated.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SchedulerRun(ok bool) {
	if m == nil {
		return
	}
	success := "false"
	if ok {
		success = "true"
	}
	m.SchedulerRuns.WithLabelValues(success).Inc()
}

// Observe records the elapsed time since start for operation.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
