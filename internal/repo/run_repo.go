package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Максимальный размер страницы списка runs.
const maxRunListLimit = 100

// RunRepo — репозиторий для работы с workflow_runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, workflow_id, status, started_at, finished_at, created_at`

// CreateWithTasks атомарно создаёт run, все его tasks и рёбра зависимостей.
func (r *RunRepo) CreateWithTasks(ctx context.Context, run *domain.Run, tasks []domain.Task, deps []domain.TaskDependency) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.WorkflowID, run.Status, run.StartedAt, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", mapPgError(err))
	}

	batch := &pgx.Batch{}
	for i := range tasks {
		task := &tasks[i]
		paramsJSON, err := json.Marshal(task.Params)
		if err != nil {
			return fmt.Errorf("marshal params for %s: %w", task.Name, err)
		}
		retryJSON, err := json.Marshal(task.Retry)
		if err != nil {
			return fmt.Errorf("marshal retry for %s: %w", task.Name, err)
		}
		batch.Queue(`
			INSERT INTO tasks (id, run_id, name, type, params, retry, status, attempt, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, task.ID, task.RunID, task.Name, task.Type, paramsJSON, retryJSON, task.Status, task.Attempt, task.CreatedAt)
	}
	for _, dep := range deps {
		batch.Queue(`
			INSERT INTO task_dependencies (run_id, task_name, depends_on)
			VALUES ($1, $2, $3)
		`, dep.RunID, dep.TaskName, dep.DependsOn)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert tasks: %w", mapPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.WorkflowID),
		nullString(string(filter.Status)),
		filter.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Finalize переводит run в финальный статус, если все его tasks завершены.
//
// Условное обновление: срабатывает только для run в статусе running
// без незавершённых tasks. Статус failed, если хотя бы один task failed.
// Возвращает false, если run уже финализирован или ещё есть работа.
func (r *RunRepo) Finalize(ctx context.Context, runID uuid.UUID) (domain.RunStatus, bool, error) {
	var status domain.RunStatus
	err := r.pool.QueryRow(ctx, `
		UPDATE workflow_runs wr
		SET status = CASE
		        WHEN EXISTS (SELECT 1 FROM tasks t WHERE t.run_id = wr.id AND t.status = 'failed')
		        THEN 'failed' ELSE 'succeeded'
		    END,
		    finished_at = now()
		WHERE wr.id = $1
		  AND wr.status = 'running'
		  AND NOT EXISTS (
		      SELECT 1 FROM tasks t
		      WHERE t.run_id = wr.id AND t.status NOT IN ('succeeded', 'failed', 'skipped')
		  )
		RETURNING wr.status
	`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("finalize run: %w", err)
	}
	return status, true, nil
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 || f.Limit > maxRunListLimit {
		return maxRunListLimit
	}
	return f.Limit
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}

// mapPgError переводит нарушение уникальности в ErrAlreadyExists.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
