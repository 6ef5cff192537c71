package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskflow/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

const workflowColumns = `id, name, version, spec, schedule, next_due_at, created_at, updated_at`

// Upsert создаёт workflow или заменяет spec существующего с тем же именем.
// ID, CreatedAt и UpdatedAt заполняются из БД.
func (r *WorkflowRepo) Upsert(ctx context.Context, wf *domain.Workflow) error {
	specJSON, err := json.Marshal(wf.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}

	query := `
		INSERT INTO workflows (id, name, version, spec, schedule, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (name) DO UPDATE
		SET version = EXCLUDED.version,
		    spec = EXCLUDED.spec,
		    schedule = EXCLUDED.schedule,
		    next_due_at = EXCLUDED.next_due_at,
		    updated_at = now()
		RETURNING ` + workflowColumns

	updated, err := scanWorkflow(r.pool.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		wf.Version,
		specJSON,
		nullString(wf.Schedule),
		wf.NextDueAt,
	))
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	*wf = *updated
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	return scanWorkflow(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает workflow по имени.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE name = $1`
	return scanWorkflow(r.pool.QueryRow(ctx, query, name))
}

// List возвращает workflows, отсортированные по имени.
func (r *WorkflowRepo) List(ctx context.Context, limit int) ([]domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY name ASC LIMIT $1`
	return r.query(ctx, query, limit)
}

// ListDue возвращает workflows с расписанием, у которых next_due_at <= now.
func (r *WorkflowRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE schedule IS NOT NULL AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	return r.query(ctx, query, now, limit)
}

// AdvanceSchedule переносит next_due_at с prev на next.
// Возвращает false, если кто-то уже сдвинул расписание (условное обновление).
func (r *WorkflowRepo) AdvanceSchedule(ctx context.Context, id uuid.UUID, prev, next time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflows
		SET next_due_at = $3, updated_at = now()
		WHERE id = $1 AND next_due_at = $2
	`, id, prev, next)
	if err != nil {
		return false, fmt.Errorf("advance schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WorkflowRepo) query(ctx context.Context, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// scanWorkflow сканирует одну строку в Workflow.
// Принимает как pgx.Row, так и pgx.Rows.
func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	var specJSON []byte
	var schedule *string

	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.Version,
		&specJSON,
		&schedule,
		&wf.NextDueAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if err := json.Unmarshal(specJSON, &wf.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	if schedule != nil {
		wf.Schedule = *schedule
	}
	return &wf, nil
}
