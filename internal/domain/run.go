package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одно выполнение workflow. Создаётся вручную (API, CLI) или
// dispatcher'ом по cron; вместе с run в той же транзакции появляются
// все его tasks и рёбра между ними.
type Run struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Status     RunStatus `json:"status"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt выставляется один раз, при переходе в succeeded или failed.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Duration — время от старта до финала; 0 для незавершённого run.
func (r *Run) Duration() time.Duration {
	return span(r.StartedAt, r.FinishedAt)
}

func span(from, to *time.Time) time.Duration {
	if from == nil || to == nil {
		return 0
	}
	return to.Sub(*from)
}
