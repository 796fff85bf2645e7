package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerTasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "tasks_enqueued_total",
		Help:      "Total tasks enqueued, labelled by platform and content kind.",
	}, []string{"platform", "kind"})

	SchedulerTasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "tasks_finished_total",
		Help:      "Total tasks reaching a terminal state, labelled by platform and outcome (verified|unverified|failed).",
	}, []string{"platform", "outcome"})

	SchedulerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "retries_total",
		Help:      "Total re-enqueues after a retryable failure, labelled by platform and error kind.",
	}, []string{"platform", "error_kind"})

	SchedulerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Pending tasks per platform.",
	}, []string{"platform"})

	SchedulerQuotaUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "quota_window_used",
		Help:      "Successful actions in the current rolling window per platform.",
	}, []string{"platform"})

	SchedulerActionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "actionflow",
		Subsystem: "scheduler",
		Name:      "action_duration_seconds",
		Help:      "End-to-end execution time of one attempt in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"platform"})

	// ─── Executor ────────────────────────────────────────────────────────────────

	ExecutorStrategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "executor",
		Name:      "strategy_success_total",
		Help:      "Which selector or input strategy carried each stage, labelled by platform, stage and strategy.",
	}, []string{"platform", "stage", "strategy"})

	ExecutorFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "executor",
		Name:      "fallback_total",
		Help:      "Stages that succeeded only through a non-primary candidate (stale primary selector signal).",
	}, []string{"platform", "stage"})

	ExecutorStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "executor",
		Name:      "stage_failures_total",
		Help:      "Stage failures after internal retries, labelled by platform, stage and error kind.",
	}, []string{"platform", "stage", "error_kind"})

	// ─── Verification ────────────────────────────────────────────────────────────

	VerifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "verify",
		Name:      "outcomes_total",
		Help:      "Verification results (found|timeout|skipped).",
	}, []string{"result"})

	// ─── Intake ──────────────────────────────────────────────────────────────────

	IntakeMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "intake",
		Name:      "messages_total",
		Help:      "Action requests consumed from Kafka, labelled by result (enqueued|dlq).",
	}, []string{"result"})

	// ─── Sinks ───────────────────────────────────────────────────────────────────

	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionflow",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Failed fire-and-forget sink writes, labelled by sink.",
	}, []string{"sink"})
)
