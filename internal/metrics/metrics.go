// Package metrics registers the Prometheus instruments for the learning pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Guard
	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_guard_decisions_total",
			Help: "Trigger admission decisions by outcome",
		},
		[]string{"outcome"}, // "admitted", "active_run_in_progress", "duplicate_context"
	)

	// Runs
	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_runs_finished_total",
			Help: "Learning runs that reached a terminal status",
		},
		[]string{"status", "reason"},
	)

	RunsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meal_learner_runs_reclaimed_total",
			Help: "Stale pending runs failed by the reclaim sweep",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meal_learner_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Oracle
	OracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meal_learner_oracle_call_duration_seconds",
			Help:    "Oracle call latency by stage and outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"stage", "outcome"},
	)

	ExplorationBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_exploration_batches_total",
			Help: "Exploration batch results by outcome",
		},
		[]string{"outcome"}, // "ok", "timeout", "error", "malformed"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meal_learner_oracle_breaker_state",
			Help: "Oracle circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_oracle_breaker_transitions_total",
			Help: "Oracle circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Queue
	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_queue_jobs_total",
			Help: "Jobs moving through the run queue",
		},
		[]string{"backend", "event"}, // event: "enqueued", "dequeued", "rejected"
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meal_learner_workers_busy",
			Help: "Workers currently executing a run",
		},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_learner_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordStage observes a stage duration
func RecordStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordOracleCall observes one oracle round trip
func RecordOracleCall(stage, outcome string, d time.Duration) {
	OracleCallDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// RecordRunFinished counts a terminal transition
func RecordRunFinished(status, reason string) {
	if reason == "" {
		reason = "none"
	}
	RunsFinished.WithLabelValues(status, reason).Inc()
}
