package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskflow/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
//
// Все переходы статуса — условные UPDATE: строка меняется, только если
// текущий статус допускает переход. Ноль затронутых строк означает,
// что переход уже сделал кто-то другой.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, run_id, name, type, params, retry, status, attempt, error, started_at, finished_at, created_at`

// readyCondition — task pending, его run выполняется, и нет зависимости не в статусе succeeded.
// Один SQL-оператор видит согласованный снимок, поэтому ready не бывает ложным.
const readyCondition = `
	t.status = 'pending'
	AND wr.status = 'running'
	AND NOT EXISTS (
	    SELECT 1
	    FROM task_dependencies d
	    JOIN tasks dep ON dep.run_id = d.run_id AND dep.name = d.depends_on
	    WHERE d.run_id = t.run_id
	      AND d.task_name = t.name
	      AND dep.status <> 'succeeded'
	)`

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListByRunID возвращает все tasks для run.
func (r *TaskRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE run_id = $1 ORDER BY created_at ASC, name ASC`
	return r.query(ctx, query, runID)
}

// ListReady возвращает готовые к запуску tasks всех выполняющихся runs.
func (r *TaskRepo) ListReady(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT t.id, t.run_id, t.name, t.type, t.params, t.retry, t.status, t.attempt,
		       t.error, t.started_at, t.finished_at, t.created_at
		FROM tasks t
		JOIN workflow_runs wr ON wr.id = t.run_id
		WHERE ` + readyCondition + `
		ORDER BY t.created_at ASC
		LIMIT $1
	`
	return r.query(ctx, query, limit)
}

// ListReadyByRun возвращает готовые к запуску tasks одного run.
func (r *TaskRepo) ListReadyByRun(ctx context.Context, runID uuid.UUID, limit int) ([]domain.Task, error) {
	query := `
		SELECT t.id, t.run_id, t.name, t.type, t.params, t.retry, t.status, t.attempt,
		       t.error, t.started_at, t.finished_at, t.created_at
		FROM tasks t
		JOIN workflow_runs wr ON wr.id = t.run_id
		WHERE t.run_id = $1 AND ` + readyCondition + `
		ORDER BY t.created_at ASC
		LIMIT $2
	`
	return r.query(ctx, query, runID, limit)
}

// MarkReady переводит task pending → ready.
// Возвращает false, если task уже не pending.
func (r *TaskRepo) MarkReady(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = 'ready'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark task ready: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Claim атомарно захватывает task: pending|ready → running, attempt+1.
// Возвращает (nil, false, nil), если task уже захвачен или завершён.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID) (*domain.Task, bool, error) {
	query := `
		UPDATE tasks
		SET status = 'running', attempt = attempt + 1, started_at = now(), error = NULL
		WHERE id = $1 AND status IN ('pending', 'ready')
		RETURNING ` + taskColumns
	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	return task, true, nil
}

// BumpAttempt увеличивает attempt у выполняющегося task перед повторной попыткой.
// Возвращает новый номер попытки; ErrInvalidState, если task уже не running.
func (r *TaskRepo) BumpAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempt int
	err := r.pool.QueryRow(ctx, `
		UPDATE tasks SET attempt = attempt + 1
		WHERE id = $1 AND status = 'running'
		RETURNING attempt
	`, id).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInvalidState
	}
	if err != nil {
		return 0, fmt.Errorf("bump attempt: %w", err)
	}
	return attempt, nil
}

// Complete записывает финальный статус task (succeeded или failed).
// Срабатывает только из running; возвращает false, если статус уже финальный.
func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errText string) (bool, error) {
	if status != domain.TaskStatusSucceeded && status != domain.TaskStatusFailed {
		return false, fmt.Errorf("%w: complete with status %s", ErrInvalidState, status)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $2, error = $3, finished_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, status, nullString(errText))
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SkipBlocked переводит в skipped все pending tasks run, у которых
// есть зависимость в статусе failed или skipped. Повторяет, пока
// есть изменения, чтобы пропуск распространился по цепочке.
// Возвращает общее число пропущенных tasks.
func (r *TaskRepo) SkipBlocked(ctx context.Context, runID uuid.UUID) (int, error) {
	total := 0
	for {
		tag, err := r.pool.Exec(ctx, `
			UPDATE tasks t
			SET status = 'skipped', error = $2, finished_at = now()
			WHERE t.run_id = $1
			  AND t.status = 'pending'
			  AND EXISTS (
			      SELECT 1
			      FROM task_dependencies d
			      JOIN tasks dep ON dep.run_id = d.run_id AND dep.name = d.depends_on
			      WHERE d.run_id = t.run_id
			        AND d.task_name = t.name
			        AND dep.status IN ('failed', 'skipped')
			  )
		`, runID, SkippedError)
		if err != nil {
			return total, fmt.Errorf("skip blocked tasks: %w", err)
		}
		n := int(tag.RowsAffected())
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// CountOutstanding возвращает число незавершённых tasks run.
func (r *TaskRepo) CountOutstanding(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE run_id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')
	`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count outstanding tasks: %w", err)
	}
	return count, nil
}

// ListDependencies возвращает рёбра зависимостей run.
func (r *TaskRepo) ListDependencies(ctx context.Context, runID uuid.UUID) ([]domain.TaskDependency, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, task_name, depends_on
		FROM task_dependencies
		WHERE run_id = $1
		ORDER BY task_name, depends_on
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []domain.TaskDependency
	for rows.Next() {
		var d domain.TaskDependency
		if err := rows.Scan(&d.RunID, &d.TaskName, &d.DependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// --- Helpers ---

func (r *TaskRepo) query(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// scanTask сканирует одну строку в Task.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var paramsJSON, retryJSON []byte
	var taskError *string

	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.Name,
		&task.Type,
		&paramsJSON,
		&retryJSON,
		&task.Status,
		&task.Attempt,
		&taskError,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &task.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if retryJSON != nil {
		if err := json.Unmarshal(retryJSON, &task.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal retry: %w", err)
		}
	}
	if taskError != nil {
		task.Error = *taskError
	}
	return &task, nil
}
