// Package memstore — хранилище состояния в памяти.
//
// Повторяет семантику PostgreSQL-репозиториев: каждый переход статуса —
// условное обновление под мьютексом. Используется в тестах и в
// taskflow-runner для выполнения workflow без БД.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/repo"
)

// Store — общее состояние. Доступ через Workflows(), Runs(), Tasks().
type Store struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow
	runs      map[uuid.UUID]*domain.Run
	tasks     map[uuid.UUID]*domain.Task
	deps      map[uuid.UUID][]domain.TaskDependency // run_id → рёбра
	now       func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		workflows: make(map[uuid.UUID]*domain.Workflow),
		runs:      make(map[uuid.UUID]*domain.Run),
		tasks:     make(map[uuid.UUID]*domain.Task),
		deps:      make(map[uuid.UUID][]domain.TaskDependency),
		now:       time.Now,
	}
}

// Workflows возвращает представление для работы с workflows.
func (s *Store) Workflows() *Workflows { return &Workflows{s: s} }

// Runs возвращает представление для работы с runs.
func (s *Store) Runs() *Runs { return &Runs{s: s} }

// Tasks возвращает представление для работы с tasks.
func (s *Store) Tasks() *Tasks { return &Tasks{s: s} }

func (s *Store) timestamp() *time.Time {
	t := s.now().UTC()
	return &t
}

// --- Workflows ---

// Workflows — аналог repo.WorkflowRepo.
type Workflows struct{ s *Store }

// Upsert создаёт workflow или заменяет spec существующего с тем же именем.
func (w *Workflows) Upsert(_ context.Context, wf *domain.Workflow) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	now := *w.s.timestamp()
	for _, existing := range w.s.workflows {
		if existing.Name == wf.Name {
			existing.Version = wf.Version
			existing.Spec = wf.Spec
			existing.Schedule = wf.Schedule
			existing.NextDueAt = wf.NextDueAt
			existing.UpdatedAt = now
			*wf = *existing
			return nil
		}
	}

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	wf.CreatedAt = now
	wf.UpdatedAt = now
	stored := *wf
	w.s.workflows[wf.ID] = &stored
	return nil
}

// GetByID возвращает workflow по ID.
func (w *Workflows) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	wf, ok := w.s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *wf
	return &out, nil
}

// GetByName возвращает workflow по имени.
func (w *Workflows) GetByName(_ context.Context, name string) (*domain.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	for _, wf := range w.s.workflows {
		if wf.Name == name {
			out := *wf
			return &out, nil
		}
	}
	return nil, repo.ErrNotFound
}

// List возвращает workflows, отсортированные по имени.
func (w *Workflows) List(_ context.Context, limit int) ([]domain.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	out := make([]domain.Workflow, 0, len(w.s.workflows))
	for _, wf := range w.s.workflows {
		out = append(out, *wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return truncate(out, limit), nil
}

// ListDue возвращает workflows с расписанием, у которых next_due_at <= now.
func (w *Workflows) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	var out []domain.Workflow
	for _, wf := range w.s.workflows {
		if wf.IsDue(now) {
			out = append(out, *wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(*out[j].NextDueAt) })
	return truncate(out, limit), nil
}

// AdvanceSchedule переносит next_due_at с prev на next, если он не сдвинут.
func (w *Workflows) AdvanceSchedule(_ context.Context, id uuid.UUID, prev, next time.Time) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	wf, ok := w.s.workflows[id]
	if !ok || wf.NextDueAt == nil || !wf.NextDueAt.Equal(prev) {
		return false, nil
	}
	wf.NextDueAt = &next
	wf.UpdatedAt = *w.s.timestamp()
	return true, nil
}

// --- Runs ---

// Runs — аналог repo.RunRepo.
type Runs struct{ s *Store }

// CreateWithTasks атомарно создаёт run, tasks и рёбра.
func (r *Runs) CreateWithTasks(_ context.Context, run *domain.Run, tasks []domain.Task, deps []domain.TaskDependency) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.runs[run.ID]; ok {
		return fmt.Errorf("insert run: %w", repo.ErrAlreadyExists)
	}
	if _, ok := r.s.workflows[run.WorkflowID]; !ok {
		return fmt.Errorf("insert run: workflow %s: %w", run.WorkflowID, repo.ErrNotFound)
	}

	names := make(map[string]bool, len(tasks))
	for i := range tasks {
		if names[tasks[i].Name] {
			return fmt.Errorf("insert tasks: %w: %s", repo.ErrAlreadyExists, tasks[i].Name)
		}
		names[tasks[i].Name] = true
	}
	for _, d := range deps {
		if !names[d.TaskName] || !names[d.DependsOn] {
			return fmt.Errorf("insert dependency %s → %s: %w", d.TaskName, d.DependsOn, repo.ErrNotFound)
		}
	}

	stored := *run
	r.s.runs[run.ID] = &stored
	for i := range tasks {
		t := tasks[i]
		r.s.tasks[t.ID] = &t
	}
	r.s.deps[run.ID] = append([]domain.TaskDependency(nil), deps...)
	return nil
}

// GetByID возвращает run по ID.
func (r *Runs) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	run, ok := r.s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *run
	return &out, nil
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *Runs) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Run
	for _, run := range r.s.runs {
		if filter.WorkflowID != nil && *filter.WorkflowID != uuid.Nil && run.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return truncate(out, limit), nil
}

// Finalize переводит run в финальный статус, если все tasks завершены.
func (r *Runs) Finalize(_ context.Context, runID uuid.UUID) (domain.RunStatus, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	run, ok := r.s.runs[runID]
	if !ok || run.Status != domain.RunStatusRunning {
		return "", false, nil
	}

	status := domain.RunStatusSucceeded
	for _, t := range r.s.tasks {
		if t.RunID != runID {
			continue
		}
		if !t.Status.IsTerminal() {
			return "", false, nil
		}
		if t.Status == domain.TaskStatusFailed {
			status = domain.RunStatusFailed
		}
	}

	run.Status = status
	run.FinishedAt = r.s.timestamp()
	return status, true, nil
}

// --- Tasks ---

// Tasks — аналог repo.TaskRepo.
type Tasks struct{ s *Store }

// GetByID возвращает task по ID.
func (t *Tasks) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *task
	return &out, nil
}

// ListByRunID возвращает все tasks run.
func (t *Tasks) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var out []domain.Task
	for _, task := range t.s.tasks {
		if task.RunID == runID {
			out = append(out, *task)
		}
	}
	sortTasks(out)
	return out, nil
}

// ListReady возвращает готовые tasks всех выполняющихся runs.
func (t *Tasks) ListReady(_ context.Context, limit int) ([]domain.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return truncate(t.s.ready(uuid.Nil), limit), nil
}

// ListReadyByRun возвращает готовые tasks одного run.
func (t *Tasks) ListReadyByRun(_ context.Context, runID uuid.UUID, limit int) ([]domain.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return truncate(t.s.ready(runID), limit), nil
}

// MarkReady переводит task pending → ready.
func (t *Tasks) MarkReady(_ context.Context, id uuid.UUID) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending {
		return false, nil
	}
	task.Status = domain.TaskStatusReady
	return true, nil
}

// Claim захватывает task: pending|ready → running, attempt+1.
func (t *Tasks) Claim(_ context.Context, id uuid.UUID) (*domain.Task, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[id]
	if !ok || !task.Status.CanTransitionTo(domain.TaskStatusRunning) {
		return nil, false, nil
	}
	task.Status = domain.TaskStatusRunning
	task.Attempt++
	task.StartedAt = t.s.timestamp()
	task.Error = ""
	out := *task
	return &out, true, nil
}

// BumpAttempt увеличивает attempt у выполняющегося task.
func (t *Tasks) BumpAttempt(_ context.Context, id uuid.UUID) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[id]
	if !ok || task.Status != domain.TaskStatusRunning {
		return 0, repo.ErrInvalidState
	}
	task.Attempt++
	return task.Attempt, nil
}

// Complete записывает финальный статус task из running.
func (t *Tasks) Complete(_ context.Context, id uuid.UUID, status domain.TaskStatus, errText string) (bool, error) {
	if status != domain.TaskStatusSucceeded && status != domain.TaskStatusFailed {
		return false, fmt.Errorf("%w: complete with status %s", repo.ErrInvalidState, status)
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[id]
	if !ok || task.Status != domain.TaskStatusRunning {
		return false, nil
	}
	task.Status = status
	task.Error = errText
	task.FinishedAt = t.s.timestamp()
	return true, nil
}

// SkipBlocked переводит в skipped pending tasks с неуспешной зависимостью, транзитивно.
func (t *Tasks) SkipBlocked(_ context.Context, runID uuid.UUID) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	total := 0
	for {
		byName := t.s.runTasks(runID)
		var blocked []*domain.Task
		for _, d := range t.s.deps[runID] {
			task, dep := byName[d.TaskName], byName[d.DependsOn]
			if task.Status == domain.TaskStatusPending &&
				(dep.Status == domain.TaskStatusFailed || dep.Status == domain.TaskStatusSkipped) {
				blocked = append(blocked, task)
			}
		}
		n := 0
		for _, task := range blocked {
			if task.Status != domain.TaskStatusPending {
				continue
			}
			task.Status = domain.TaskStatusSkipped
			task.Error = repo.SkippedError
			task.FinishedAt = t.s.timestamp()
			n++
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// CountOutstanding возвращает число незавершённых tasks run.
func (t *Tasks) CountOutstanding(_ context.Context, runID uuid.UUID) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	count := 0
	for _, task := range t.s.tasks {
		if task.RunID == runID && !task.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// ListDependencies возвращает рёбра зависимостей run.
func (t *Tasks) ListDependencies(_ context.Context, runID uuid.UUID) ([]domain.TaskDependency, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return append([]domain.TaskDependency(nil), t.s.deps[runID]...), nil
}

// --- helpers (вызываются под мьютексом) ---

func (s *Store) runTasks(runID uuid.UUID) map[string]*domain.Task {
	byName := make(map[string]*domain.Task)
	for _, task := range s.tasks {
		if task.RunID == runID {
			byName[task.Name] = task
		}
	}
	return byName
}

// ready — те же условия, что readyCondition в repo.TaskRepo.
// runID == uuid.Nil означает все runs.
func (s *Store) ready(runID uuid.UUID) []domain.Task {
	var out []domain.Task
	for id, run := range s.runs {
		if run.Status != domain.RunStatusRunning || (runID != uuid.Nil && id != runID) {
			continue
		}
		byName := s.runTasks(id)
		blocked := make(map[string]bool)
		for _, d := range s.deps[id] {
			if byName[d.DependsOn].Status != domain.TaskStatusSucceeded {
				blocked[d.TaskName] = true
			}
		}
		for name, task := range byName {
			if task.Status == domain.TaskStatusPending && !blocked[name] {
				out = append(out, *task)
			}
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].Name < tasks[j].Name
	})
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
