package inprocess

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/repo/memstore"
	"github.com/shaiso/Taskflow/internal/worker"
)

func seed(t *testing.T, store *memstore.Store, yamlSpec string, mutate func([]domain.Task)) *engine.RunPlan {
	t.Helper()
	ctx := context.Background()
	spec, err := engine.ParseSpec([]byte(yamlSpec))
	require.NoError(t, err)
	wf, err := engine.NewWorkflow(spec, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Workflows().Upsert(ctx, wf))
	plan, err := engine.PlanRun(wf, time.Now().UTC())
	require.NoError(t, err)
	if mutate != nil {
		mutate(plan.Tasks)
	}
	require.NoError(t, store.Runs().CreateWithTasks(ctx, plan.Run, plan.Tasks, plan.Dependencies))
	return plan
}

func newExecutor(t *testing.T, store *memstore.Store, registry *worker.Registry) *Executor {
	t.Helper()
	e, err := New(Config{
		Tasks:    store.Tasks(),
		Runs:     store.Runs(),
		Registry: registry,
		Interval: 5 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return e
}

func tasksByName(t *testing.T, store *memstore.Store, runID uuid.UUID) map[string]domain.Task {
	t.Helper()
	tasks, err := store.Tasks().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	out := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		out[task.Name] = task
	}
	return out
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, worker.ErrNoStore)
}

func TestRun_Diamond(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: diamond
tasks:
  - name: a
    params: {delay_ms: 0}
  - name: b
    dependsOn: [a]
    params: {delay_ms: 0}
  - name: c
    dependsOn: [a]
    params: {delay_ms: 0}
  - name: d
    dependsOn: [b, c]
    params: {delay_ms: 0}
`, nil)

	status, err := newExecutor(t, store, nil).Run(context.Background(), plan.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, status)

	tasks := tasksByName(t, store, plan.Run.ID)
	for name, task := range tasks {
		assert.Equal(t, domain.TaskStatusSucceeded, task.Status, name)
	}
	// d стартует только после b и c
	assert.False(t, tasks["d"].StartedAt.Before(*tasks["b"].FinishedAt))
	assert.False(t, tasks["d"].StartedAt.Before(*tasks["c"].FinishedAt))
}

func TestRun_ExecutesIndependentTasksConcurrently(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: wide
tasks:
  - name: a
  - name: b
  - name: c
`, nil)

	var inFlight, peak atomic.Int32
	registry := worker.NewRegistry()
	registry.Register(domain.TaskTypeEcho, worker.ExecutorFunc(func(context.Context, *domain.Task) (*worker.ExecutionResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return &worker.ExecutionResult{}, nil
	}))

	status, err := newExecutor(t, store, registry).Run(context.Background(), plan.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, status)
	assert.Equal(t, int32(3), peak.Load())
}

func TestRun_UnknownTypeWithSibling(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: mixed
tasks:
  - name: bad
  - name: good
    params: {delay_ms: 0}
  - name: after-bad
    dependsOn: [bad]
`, func(tasks []domain.Task) {
		for i := range tasks {
			if tasks[i].Name == "bad" {
				tasks[i].Type = "ftp"
			}
		}
	})

	status, err := newExecutor(t, store, nil).Run(context.Background(), plan.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, status)

	tasks := tasksByName(t, store, plan.Run.ID)
	assert.Equal(t, domain.TaskStatusFailed, tasks["bad"].Status)
	assert.Equal(t, domain.TaskStatusSucceeded, tasks["good"].Status)
	assert.Equal(t, domain.TaskStatusSkipped, tasks["after-bad"].Status)
	assert.Equal(t, repo.SkippedError, tasks["after-bad"].Error)
}


func TestRun_AlreadyFinished(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, "name: one\ntasks:\n  - name: a\n    params: {delay_ms: 0}\n", nil)
	e := newExecutor(t, store, nil)

	_, err := e.Run(context.Background(), plan.Run.ID)
	require.NoError(t, err)

	status, err := e.Run(context.Background(), plan.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, status)
}

func TestRun_UnknownRun(t *testing.T) {
	store := memstore.New()
	_, err := newExecutor(t, store, nil).Run(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestRun_WaitsForForeignRunningTask(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, "name: shared\ntasks:\n  - name: a\n    params: {delay_ms: 0}\n", nil)
	ctx := context.Background()

	// Task уже захвачен другим процессом.
	id := plan.Tasks[0].ID
	_, ok, err := store.Tasks().Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		_, _ = store.Tasks().Complete(ctx, id, domain.TaskStatusSucceeded, "")
	}()

	status, err := newExecutor(t, store, nil).Run(ctx, plan.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, status)
	wg.Wait()
}

func TestRun_ContextCanceled(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, "name: stuck\ntasks:\n  - name: a\n", nil)

	_, ok, err := store.Tasks().Claim(context.Background(), plan.Tasks[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = newExecutor(t, store, nil).Run(ctx, plan.Run.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// claimFails отказывает в Claim одного task, имитируя обрыв соединения.
type claimFails struct {
	TaskStore
	id uuid.UUID
}

func (c claimFails) Claim(ctx context.Context, id uuid.UUID) (*domain.Task, bool, error) {
	if id == c.id {
		return nil, false, errors.New("connection reset")
	}
	return c.TaskStore.Claim(ctx, id)
}

func TestRun_StoreErrorDoesNotFailSiblings(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, "name: pair\ntasks:\n  - name: a\n  - name: b\n", nil)
	tasks := tasksByName(t, store, plan.Run.ID)

	registry := worker.NewRegistry()
	registry.Register(domain.TaskTypeEcho, worker.ExecutorFunc(func(ctx context.Context, _ *domain.Task) (*worker.ExecutionResult, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return &worker.ExecutionResult{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	e, err := New(Config{
		Tasks:    claimFails{TaskStore: store.Tasks(), id: tasks["a"].ID},
		Runs:     store.Runs(),
		Registry: registry,
		Interval: 5 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), plan.Run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	after := tasksByName(t, store, plan.Run.ID)
	assert.Equal(t, domain.TaskStatusPending, after["a"].Status)
	assert.Equal(t, domain.TaskStatusSucceeded, after["b"].Status)
	assert.Empty(t, after["b"].Error)
	assert.Equal(t, domain.RunStatusRunning, getRunStatus(t, store, plan.Run.ID))
}

func getRunStatus(t *testing.T, store *memstore.Store, id uuid.UUID) domain.RunStatus {
	t.Helper()
	run, err := store.Runs().GetByID(context.Background(), id)
	require.NoError(t, err)
	return run.Status
}
