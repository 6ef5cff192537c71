package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в глобальном реестре при импорте пакета.
var (
	// DispatchedTasks — опубликованные диспетчером tasks.
	DispatchedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_dispatched_tasks_total",
		Help: "Tasks published to the task bus by the dispatcher",
	})

	// LeaderAcquisitions — успешные захваты leader lock.
	LeaderAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_leader_acquisitions_total",
		Help: "Times this dispatcher became the leader",
	})

	// Claims — попытки захвата task воркером: won или duplicate.
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_task_claims_total",
		Help: "Task claim attempts by result",
	}, []string{"result"})

	// TaskOutcomes — завершённые tasks по статусу.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_task_outcomes_total",
		Help: "Tasks that reached a terminal status",
	}, []string{"status"})

	// TaskRetries — повторные попытки выполнения.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_task_retries_total",
		Help: "Task execution retries",
	})

	// FinalizedRuns — завершённые runs по статусу.
	FinalizedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_finalized_runs_total",
		Help: "Runs moved to a terminal status",
	}, []string{"status"})

	// DeadLettered — сообщения, ушедшие в dead-letter, по причине.
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_dead_lettered_messages_total",
		Help: "Messages routed to the dead-letter queue",
	}, []string{"reason"})

	// TaskDuration — время выполнения task (все попытки).
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_task_duration_seconds",
		Help:    "Task execution time including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// HTTPRequests — запросы к admin API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_api_http_requests_total",
		Help: "HTTP requests handled by the admin API",
	}, []string{"method", "route", "status"})
)
