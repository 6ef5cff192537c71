package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Workflow DTOs

// ApplyWorkflowResponse — ответ на загрузку workflow.
type ApplyWorkflowResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Version   int        `json:"version"`
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
}

// WorkflowResponse — ответ с workflow.
type WorkflowResponse struct {
	ID        uuid.UUID           `json:"id"`
	Name      string              `json:"name"`
	Version   int                 `json:"version"`
	Schedule  string              `json:"schedule,omitempty"`
	NextDueAt *time.Time          `json:"next_due_at,omitempty"`
	Spec      domain.WorkflowSpec `json:"spec"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(w domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:        w.ID,
		Name:      w.Name,
		Version:   w.Version,
		Schedule:  w.Schedule,
		NextDueAt: w.NextDueAt,
		Spec:      w.Spec,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// TriggerResponse — ответ на ручной запуск workflow.
type TriggerResponse struct {
	RunID uuid.UUID `json:"runId"`
	Tasks int       `json:"tasks"`
}

// Run DTOs

// ListRunsQuery — query-параметры GET /runs.
type ListRunsQuery struct {
	WorkflowID string `validate:"omitempty,uuid"`
	Status     string `validate:"omitempty,oneof=running succeeded failed"`
	Limit      int    `validate:"gte=0,lte=100"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID  `json:"id"`
	WorkflowID uuid.UUID  `json:"workflow_id"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     string(r.Status),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		CreatedAt:  r.CreatedAt,
	}
}

// RunDetailsResponse — run вместе с его tasks.
type RunDetailsResponse struct {
	Run   RunResponse    `json:"run"`
	Tasks []TaskResponse `json:"tasks"`
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID         uuid.UUID      `json:"id"`
	RunID      uuid.UUID      `json:"run_id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task, dependsOn []string) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		RunID:      t.RunID,
		Name:       t.Name,
		Type:       t.Type,
		Params:     t.Params,
		DependsOn:  dependsOn,
		Attempt:    t.Attempt,
		Status:     string(t.Status),
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		Error:      t.Error,
		DurationMs: t.Duration().Milliseconds(),
		CreatedAt:  t.CreatedAt,
	}
}
