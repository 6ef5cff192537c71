package domain

import (
	"time"

	"github.com/google/uuid"
)

// Типы task'ов, которые понимает Worker.
const (
	TaskTypeEcho  = "echo"
	TaskTypeHTTP  = "http"
	TaskTypeShell = "shell"
)

// Workflow — определение рабочего процесса.
//
// Workflow хранит провалидированный граф tasks.
// Upsert идёт по уникальному Name: повторная загрузка заменяет spec.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя workflow (например, "sync-orders").
	Name string `json:"name"`

	// Version — версия спецификации (≥ 1).
	Version int `json:"version"`

	// Spec — провалидированная спецификация графа.
	Spec WorkflowSpec `json:"spec"`

	// Schedule — cron-выражение для автоматического запуска (пусто — только вручную).
	Schedule string `json:"schedule,omitempty"`

	// NextDueAt — время следующего запуска по расписанию.
	// Dispatcher создаёт run, когда now >= NextDueAt.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// CreatedAt — время создания workflow.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего upsert.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsScheduled возвращает true, если у workflow есть cron-расписание.
func (w *Workflow) IsScheduled() bool {
	return w.Schedule != ""
}

// IsDue проверяет, пора ли запускать workflow по расписанию.
func (w *Workflow) IsDue(now time.Time) bool {
	if !w.IsScheduled() || w.NextDueAt == nil {
		return false
	}
	return !now.Before(*w.NextDueAt)
}

// WorkflowSpec — спецификация workflow (YAML или JSON).
//
// Это "программа" для Taskflow: набор tasks и рёбер между ними.
type WorkflowSpec struct {
	// Name — уникальное имя workflow.
	Name string `json:"name" yaml:"name" validate:"required,max=200"`

	// Version — версия спецификации. По умолчанию 1.
	Version int `json:"version" yaml:"version" validate:"gte=1"`

	// Schedule — cron-выражение (5 полей), опционально.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Tasks — список tasks, минимум один.
	Tasks []TaskSpec `json:"tasks" yaml:"tasks" validate:"required,min=1,dive"`
}

// TaskSpec — определение task в workflow.
type TaskSpec struct {
	// Name — уникальное имя task в рамках workflow.
	// Используется в dependsOn.
	Name string `json:"name" yaml:"name" validate:"required,max=200"`

	// Type — тип handler'а. По умолчанию echo.
	Type string `json:"type" yaml:"type" validate:"oneof=echo http shell"`

	// Params — параметры handler'а (зависят от типа).
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// DependsOn — имена tasks, которые должны завершиться успешно раньше этого.
	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty" validate:"dive,required"`

	// Retry — политика повторных попыток.
	Retry RetryPolicy `json:"retry" yaml:"retry"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	// 0 означает одну попытку без повторов.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts" validate:"gte=0"`

	// Backoff — параметры экспоненциальной задержки.
	Backoff BackoffPolicy `json:"backoff" yaml:"backoff"`
}

// BackoffPolicy — параметры задержки между попытками.
//
// Задержка перед попыткой n+1: InitialMs * Factor^(n-1) ± Jitter.
type BackoffPolicy struct {
	// InitialMs — начальная задержка в миллисекундах. По умолчанию 1000.
	InitialMs int `json:"initialMs" yaml:"initialMs" validate:"gte=0"`

	// Factor — множитель задержки (≥ 1). По умолчанию 2.
	Factor float64 `json:"factor" yaml:"factor" validate:"gte=1"`

	// Jitter — доля случайного разброса [0, 1]. По умолчанию 0.1.
	Jitter float64 `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
}

// Значения по умолчанию для spec.
const (
	DefaultSpecVersion      = 1
	DefaultBackoffInitialMs = 1000
	DefaultBackoffFactor    = 2.0
	DefaultBackoffJitter    = 0.1
)

// DefaultRetryPolicy возвращает политику по умолчанию: одна попытка.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		Backoff: BackoffPolicy{
			InitialMs: DefaultBackoffInitialMs,
			Factor:    DefaultBackoffFactor,
			Jitter:    DefaultBackoffJitter,
		},
	}
}

// ShouldRetry сообщает, можно ли сделать ещё одну попытку после attempt.
// attempt — номер уже выполненной попытки (начиная с 1).
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.Attempts()
}

// Attempts возвращает общее число разрешённых попыток (минимум 1).
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
