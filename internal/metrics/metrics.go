package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CalcsSubmitted tracks submissions per calculation kind.
	CalcsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcwatch_calculations_submitted_total",
			Help: "Total number of calculations submitted to the scheduler",
		},
		[]string{"type"},
	)

	// CalcsCompleted tracks completed calculations per kind.
	CalcsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcwatch_calculations_completed_total",
			Help: "Total number of calculations completed successfully",
		},
		[]string{"type"},
	)

	// CalcsFailed tracks terminal failures per kind and failure kind.
	CalcsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcwatch_calculations_failed_total",
			Help: "Total number of calculations that failed terminally",
		},
		[]string{"type", "failure_kind"},
	)

	// RecoveryAttempts tracks automated recovery attempts per failure kind.
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcwatch_recovery_attempts_total",
			Help: "Total number of automated recovery attempts",
		},
		[]string{"failure_kind"},
	)

	// PollDuration tracks scheduler poll latency.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calcwatch_scheduler_poll_seconds",
			Help:    "Scheduler poll latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActiveCalcs tracks calculations currently occupying the scheduler.
	ActiveCalcs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calcwatch_active_calculations",
			Help: "Calculations currently submitted or running",
		},
	)

	// WorkflowStepsTriggered tracks downstream calculations created by the
	// workflow engine.
	WorkflowStepsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcwatch_workflow_steps_triggered_total",
			Help: "Total number of downstream workflow steps created",
		},
		[]string{"type"},
	)

	// StoreLockRetries counts busy-retry cycles against the store.
	StoreLockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calcwatch_store_lock_retries_total",
			Help: "Total number of store operations retried due to lock contention",
		},
	)

	// DBConnectionPoolUsage tracks pool saturation in percent.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calcwatch_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
