// Package repotest содержит общий набор проверок для реализаций хранилища.
//
// Одни и те же сценарии прогоняются для memstore и для PostgreSQL
// (последний — под тегом integration), чтобы семантика условных
// обновлений совпадала.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/repo"
)

// WorkflowStore — операции над workflows.
type WorkflowStore interface {
	Upsert(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	GetByName(ctx context.Context, name string) (*domain.Workflow, error)
	List(ctx context.Context, limit int) ([]domain.Workflow, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error)
	AdvanceSchedule(ctx context.Context, id uuid.UUID, prev, next time.Time) (bool, error)
}

// RunStore — операции над runs.
type RunStore interface {
	CreateWithTasks(ctx context.Context, run *domain.Run, tasks []domain.Task, deps []domain.TaskDependency) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Finalize(ctx context.Context, runID uuid.UUID) (domain.RunStatus, bool, error)
}

// TaskStore — операции над tasks.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Task, error)
	ListReady(ctx context.Context, limit int) ([]domain.Task, error)
	ListReadyByRun(ctx context.Context, runID uuid.UUID, limit int) ([]domain.Task, error)
	MarkReady(ctx context.Context, id uuid.UUID) (bool, error)
	Claim(ctx context.Context, id uuid.UUID) (*domain.Task, bool, error)
	BumpAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Complete(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errText string) (bool, error)
	SkipBlocked(ctx context.Context, runID uuid.UUID) (int, error)
	CountOutstanding(ctx context.Context, runID uuid.UUID) (int, error)
	ListDependencies(ctx context.Context, runID uuid.UUID) ([]domain.TaskDependency, error)
}

// Stores — набор хранилищ одной реализации.
type Stores struct {
	Workflows WorkflowStore
	Runs      RunStore
	Tasks     TaskStore
}

// Run прогоняет все сценарии. newStores должен возвращать чистое состояние.
func Run(t *testing.T, newStores func(t *testing.T) Stores) {
	t.Run("UpsertByName", func(t *testing.T) { testUpsertByName(t, newStores(t)) })
	t.Run("Readiness", func(t *testing.T) { testReadiness(t, newStores(t)) })
	t.Run("ClaimExclusive", func(t *testing.T) { testClaimExclusive(t, newStores(t)) })
	t.Run("RedeliveryIsNoop", func(t *testing.T) { testRedeliveryIsNoop(t, newStores(t)) })
	t.Run("FinalizeIdempotent", func(t *testing.T) { testFinalizeIdempotent(t, newStores(t)) })
	t.Run("SkipPropagates", func(t *testing.T) { testSkipPropagates(t, newStores(t)) })
	t.Run("BumpAttempt", func(t *testing.T) { testBumpAttempt(t, newStores(t)) })
	t.Run("AdvanceSchedule", func(t *testing.T) { testAdvanceSchedule(t, newStores(t)) })
	t.Run("ListRunsFilter", func(t *testing.T) { testListRunsFilter(t, newStores(t)) })
}

// SeedRun сохраняет workflow и создаёт для него run.
// yamlSpec — спецификация в YAML.
func SeedRun(t *testing.T, s Stores, yamlSpec string) (*domain.Workflow, *engine.RunPlan) {
	t.Helper()
	ctx := context.Background()

	spec, err := engine.ParseSpec([]byte(yamlSpec))
	require.NoError(t, err)

	wf := &domain.Workflow{Name: spec.Name, Version: spec.Version, Spec: *spec}
	require.NoError(t, s.Workflows.Upsert(ctx, wf))

	plan, err := engine.PlanRun(wf, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Runs.CreateWithTasks(ctx, plan.Run, plan.Tasks, plan.Dependencies))
	return wf, plan
}

// TaskByName ищет task плана по имени.
func TaskByName(t *testing.T, plan *engine.RunPlan, name string) domain.Task {
	t.Helper()
	for _, task := range plan.Tasks {
		if task.Name == name {
			return task
		}
	}
	t.Fatalf("task %q not in plan", name)
	return domain.Task{}
}

func readyNames(t *testing.T, s Stores, runID uuid.UUID) []string {
	t.Helper()
	tasks, err := s.Tasks.ListReadyByRun(context.Background(), runID, 200)
	require.NoError(t, err)
	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	return names
}

func finish(t *testing.T, s Stores, id uuid.UUID, status domain.TaskStatus) {
	t.Helper()
	ctx := context.Background()
	_, ok, err := s.Tasks.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Tasks.Complete(ctx, id, status, "")
	require.NoError(t, err)
	require.True(t, ok)
}

const diamond = `
name: diamond
tasks:
  - name: a
  - name: b
    dependsOn: [a]
  - name: c
    dependsOn: [a]
  - name: d
    dependsOn: [b, c]
`

func testUpsertByName(t *testing.T, s Stores) {
	ctx := context.Background()

	spec, err := engine.ParseSpec([]byte("name: same\ntasks:\n  - name: a\n"))
	require.NoError(t, err)
	first := &domain.Workflow{Name: "same", Version: 1, Spec: *spec}
	require.NoError(t, s.Workflows.Upsert(ctx, first))

	second := &domain.Workflow{Name: "same", Version: 2, Spec: *spec}
	require.NoError(t, s.Workflows.Upsert(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)

	got, err := s.Workflows.GetByName(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	_, err = s.Workflows.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func testReadiness(t *testing.T, s Stores) {
	_, plan := SeedRun(t, s, diamond)
	runID := plan.Run.ID

	assert.Equal(t, []string{"a"}, readyNames(t, s, runID))

	finish(t, s, TaskByName(t, plan, "a").ID, domain.TaskStatusSucceeded)
	assert.ElementsMatch(t, []string{"b", "c"}, readyNames(t, s, runID))

	finish(t, s, TaskByName(t, plan, "b").ID, domain.TaskStatusSucceeded)
	assert.Equal(t, []string{"c"}, readyNames(t, s, runID), "d must wait for c")

	finish(t, s, TaskByName(t, plan, "c").ID, domain.TaskStatusSucceeded)
	assert.Equal(t, []string{"d"}, readyNames(t, s, runID))

	all, err := s.Tasks.ListReady(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d", all[0].Name)
}

func testClaimExclusive(t *testing.T, s Stores) {
	ctx := context.Background()
	_, plan := SeedRun(t, s, diamond)
	id := TaskByName(t, plan, "a").ID

	ok, err := s.Tasks.MarkReady(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := s.Tasks.Claim(ctx, id)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	task, err := s.Tasks.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, task.Status)
	assert.Equal(t, 1, task.Attempt)
}

func testRedeliveryIsNoop(t *testing.T, s Stores) {
	ctx := context.Background()
	_, plan := SeedRun(t, s, diamond)
	id := TaskByName(t, plan, "a").ID

	finish(t, s, id, domain.TaskStatusSucceeded)

	_, ok, err := s.Tasks.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "terminal task must not be claimed again")

	ok, err = s.Tasks.MarkReady(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "terminal task must not go back to ready")

	ok, err = s.Tasks.Complete(ctx, id, domain.TaskStatusFailed, "late")
	require.NoError(t, err)
	assert.False(t, ok, "terminal status must not change")

	task, err := s.Tasks.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, task.Status)
	assert.Equal(t, 1, task.Attempt)
}

func testFinalizeIdempotent(t *testing.T, s Stores) {
	ctx := context.Background()
	_, plan := SeedRun(t, s, "name: pair\ntasks:\n  - name: x\n  - name: y\n")
	runID := plan.Run.ID

	finish(t, s, TaskByName(t, plan, "x").ID, domain.TaskStatusFailed)

	_, ok, err := s.Runs.Finalize(ctx, runID)
	require.NoError(t, err)
	assert.False(t, ok, "run with outstanding tasks must stay running")

	finish(t, s, TaskByName(t, plan, "y").ID, domain.TaskStatusSucceeded)

	status, ok, err := s.Runs.Finalize(ctx, runID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RunStatusFailed, status)

	_, ok, err = s.Runs.Finalize(ctx, runID)
	require.NoError(t, err)
	assert.False(t, ok, "second finalize must be a no-op")

	run, err := s.Runs.GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func testSkipPropagates(t *testing.T, s Stores) {
	ctx := context.Background()
	_, plan := SeedRun(t, s, `
name: chain
tasks:
  - name: a
  - name: b
    dependsOn: [a]
  - name: c
    dependsOn: [b]
  - name: side
`)
	runID := plan.Run.ID

	finish(t, s, TaskByName(t, plan, "a").ID, domain.TaskStatusFailed)

	n, err := s.Tasks.SkipBlocked(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	outstanding, err := s.Tasks.CountOutstanding(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, outstanding, "independent sibling is still pending")

	assert.Equal(t, []string{"side"}, readyNames(t, s, runID))

	c, err := s.Tasks.GetByID(ctx, TaskByName(t, plan, "c").ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSkipped, c.Status)
	assert.Equal(t, repo.SkippedError, c.Error)

	deps, err := s.Tasks.ListDependencies(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func testBumpAttempt(t *testing.T, s Stores) {
	ctx := context.Background()
	_, plan := SeedRun(t, s, "name: one\ntasks:\n  - name: a\n")
	id := TaskByName(t, plan, "a").ID

	_, err := s.Tasks.BumpAttempt(ctx, id)
	assert.ErrorIs(t, err, repo.ErrInvalidState, "pending task has no attempt to bump")

	_, ok, err := s.Tasks.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	attempt, err := s.Tasks.BumpAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
}

func testAdvanceSchedule(t *testing.T, s Stores) {
	ctx := context.Background()

	spec, err := engine.ParseSpec([]byte("name: cron\nschedule: \"*/5 * * * *\"\ntasks:\n  - name: a\n"))
	require.NoError(t, err)

	due := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	wf := &domain.Workflow{Name: spec.Name, Version: 1, Spec: *spec, Schedule: spec.Schedule, NextDueAt: &due}
	require.NoError(t, s.Workflows.Upsert(ctx, wf))

	list, err := s.Workflows.ListDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	next := due.Add(5 * time.Minute)
	ok, err := s.Workflows.AdvanceSchedule(ctx, wf.ID, *list[0].NextDueAt, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Workflows.AdvanceSchedule(ctx, wf.ID, *list[0].NextDueAt, next.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "stale prev must lose")
}

func testListRunsFilter(t *testing.T, s Stores) {
	ctx := context.Background()
	wf, plan := SeedRun(t, s, "name: listed\ntasks:\n  - name: a\n")

	runs, err := s.Runs.List(ctx, repo.RunFilter{WorkflowID: &wf.ID, Status: domain.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, plan.Run.ID, runs[0].ID)

	runs, err = s.Runs.List(ctx, repo.RunFilter{Status: domain.RunStatusSucceeded})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
