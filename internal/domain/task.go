package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — узел DAG внутри run.
//
// Все tasks создаются в pending вместе с run. Dispatcher переводит их
// в ready, worker захватывает в running и закрывает succeeded или failed.
type Task struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	// Name уникален в пределах run; по нему задаются зависимости.
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Retry  RetryPolicy    `json:"retry"`

	Status TaskStatus `json:"status"`
	// Attempt растёт на каждом захвате, включая повторы после сбоя.
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Duration — время последней попытки; 0, пока task не завершён.
func (t *Task) Duration() time.Duration {
	return span(t.StartedAt, t.FinishedAt)
}

// TaskDependency — ребро графа: TaskName ждёт успешного завершения DependsOn.
// Рёбра неизменны после создания run.
type TaskDependency struct {
	RunID     uuid.UUID `json:"run_id"`
	TaskName  string    `json:"task_name"`
	DependsOn string    `json:"depends_on"`
}
