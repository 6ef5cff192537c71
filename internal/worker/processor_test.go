package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/repo/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

// seed создаёт run по YAML; mutate может поправить tasks до сохранения.
func seed(t *testing.T, store *memstore.Store, yamlSpec string, mutate func(tasks []domain.Task)) *engine.RunPlan {
	t.Helper()
	ctx := context.Background()

	spec, err := engine.ParseSpec([]byte(yamlSpec))
	require.NoError(t, err)

	wf := &domain.Workflow{Name: spec.Name, Version: spec.Version, Spec: *spec}
	require.NoError(t, store.Workflows().Upsert(ctx, wf))

	plan, err := engine.PlanRun(wf, time.Now().UTC())
	require.NoError(t, err)
	if mutate != nil {
		mutate(plan.Tasks)
	}
	require.NoError(t, store.Runs().CreateWithTasks(ctx, plan.Run, plan.Tasks, plan.Dependencies))
	return plan
}

func taskID(t *testing.T, plan *engine.RunPlan, name string) uuid.UUID {
	t.Helper()
	for _, task := range plan.Tasks {
		if task.Name == name {
			return task.ID
		}
	}
	t.Fatalf("task %q not in plan", name)
	return uuid.Nil
}

func newProcessor(t *testing.T, store *memstore.Store) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{
		Tasks:  store.Tasks(),
		Runs:   store.Runs(),
		Logger: discardLogger(),
		Sleep:  noSleep,
	})
	require.NoError(t, err)
	return p
}

func getTask(t *testing.T, store *memstore.Store, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := store.Tasks().GetByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func getRun(t *testing.T, store *memstore.Store, id uuid.UUID) *domain.Run {
	t.Helper()
	run, err := store.Runs().GetByID(context.Background(), id)
	require.NoError(t, err)
	return run
}

const single = `
name: single
tasks:
  - name: only
    params: {delay_ms: 0}
`

func TestNewProcessor_RequiresStores(t *testing.T) {
	_, err := NewProcessor(ProcessorConfig{})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestProcessor_Success(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)
	p := newProcessor(t, store)

	res, err := p.Process(context.Background(), taskID(t, plan, "only"))
	require.NoError(t, err)

	assert.True(t, res.Claimed)
	assert.Equal(t, domain.TaskStatusSucceeded, res.Status)
	assert.Equal(t, domain.RunStatusSucceeded, res.RunStatus)

	task := getTask(t, store, taskID(t, plan, "only"))
	assert.Equal(t, 1, task.Attempt)
	assert.NotNil(t, task.FinishedAt)

	run := getRun(t, store, plan.Run.ID)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestProcessor_DuplicateIsNoop(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)
	p := newProcessor(t, store)
	id := taskID(t, plan, "only")

	_, err := p.Process(context.Background(), id)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Empty(t, res.RunStatus)
	assert.Equal(t, 1, getTask(t, store, id).Attempt)
}

func TestProcessor_UnknownTaskIsNoop(t *testing.T) {
	store := memstore.New()
	p := newProcessor(t, store)

	res, err := p.Process(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Claimed)
}

func TestProcessor_RetryThenSucceed(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: flaky
tasks:
  - name: flaky
    params: {delay_ms: 0, fail_attempts: 2}
    retry:
      maxAttempts: 3
      backoff: {initialMs: 1}
`, nil)

	var delays []time.Duration
	p, err := NewProcessor(ProcessorConfig{
		Tasks:  store.Tasks(),
		Runs:   store.Runs(),
		Logger: discardLogger(),
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})
	require.NoError(t, err)

	res, err := p.Process(context.Background(), taskID(t, plan, "flaky"))
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusSucceeded, res.Status)
	assert.Equal(t, 3, getTask(t, store, taskID(t, plan, "flaky")).Attempt)
	assert.Len(t, delays, 2)
}

func TestProcessor_RetryExhausted(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: broken
tasks:
  - name: broken
    params: {delay_ms: 0, fail: boom}
    retry: {maxAttempts: 2}
`, nil)
	p := newProcessor(t, store)

	res, err := p.Process(context.Background(), taskID(t, plan, "broken"))
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, res.Status)
	assert.Equal(t, domain.RunStatusFailed, res.RunStatus)

	task := getTask(t, store, taskID(t, plan, "broken"))
	assert.Equal(t, 2, task.Attempt)
	assert.Contains(t, task.Error, "boom")
}

func TestProcessor_FailureSkipsDependents(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: chain
tasks:
  - name: a
    params: {delay_ms: 0, fail: nope}
  - name: b
    dependsOn: [a]
  - name: c
    dependsOn: [b]
`, nil)
	p := newProcessor(t, store)

	res, err := p.Process(context.Background(), taskID(t, plan, "a"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.RunStatus)

	assert.Equal(t, domain.TaskStatusSkipped, getTask(t, store, taskID(t, plan, "b")).Status)
	assert.Equal(t, domain.TaskStatusSkipped, getTask(t, store, taskID(t, plan, "c")).Status)
	assert.Equal(t, domain.RunStatusFailed, getRun(t, store, plan.Run.ID).Status)
}

func TestProcessor_UnknownTypeFailsWithoutRetry(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: mystery
tasks:
  - name: x
    retry: {maxAttempts: 5}
`, func(tasks []domain.Task) { tasks[0].Type = "ftp" })
	p := newProcessor(t, store)

	res, err := p.Process(context.Background(), taskID(t, plan, "x"))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, res.Status)

	task := getTask(t, store, taskID(t, plan, "x"))
	assert.Equal(t, 1, task.Attempt)
	assert.Contains(t, task.Error, engine.ErrUnknownTaskType.Error())
}

// failingTasks отказывает в Claim, имитируя недоступную БД.
type failingTasks struct {
	TaskStore
}

func (failingTasks) Claim(context.Context, uuid.UUID) (*domain.Task, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestWorker_Handle_StoreErrorRequeues(t *testing.T) {
	store := memstore.New()
	w, err := New(Config{
		Tasks:  failingTasks{store.Tasks()},
		Runs:   store.Runs(),
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	outcome := w.Handle(context.Background(), mq.TaskMessage{TaskID: uuid.New(), RunID: uuid.New()})
	assert.Equal(t, mq.OutcomeRequeue, outcome)
}

func TestWorker_Handle_DuplicateAcks(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)
	w, err := New(Config{Tasks: store.Tasks(), Runs: store.Runs(), Logger: discardLogger()})
	require.NoError(t, err)

	msg := mq.TaskMessage{TaskID: taskID(t, plan, "only"), RunID: plan.Run.ID, Type: "echo"}
	assert.Equal(t, mq.OutcomeAck, w.Handle(context.Background(), msg))
	assert.Equal(t, mq.OutcomeAck, w.Handle(context.Background(), msg))
}

func TestWorker_StartRequiresSource(t *testing.T) {
	store := memstore.New()
	w, err := New(Config{Tasks: store.Tasks(), Runs: store.Runs()})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

// flakyRuns отказывает в Finalize, пока down выставлен.
type flakyRuns struct {
	RunStore
	down atomic.Bool
}

func (f *flakyRuns) Finalize(ctx context.Context, runID uuid.UUID) (domain.RunStatus, bool, error) {
	if f.down.Load() {
		return "", false, errors.New("connection reset")
	}
	return f.RunStore.Finalize(ctx, runID)
}

// flakyTasks отказывает в SkipBlocked, пока down выставлен.
type flakyTasks struct {
	TaskStore
	down atomic.Bool
}

func (f *flakyTasks) SkipBlocked(ctx context.Context, runID uuid.UUID) (int, error) {
	if f.down.Load() {
		return 0, errors.New("connection reset")
	}
	return f.TaskStore.SkipBlocked(ctx, runID)
}

func TestWorker_Handle_RedeliveryFinalizesRun(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)
	runs := &flakyRuns{RunStore: store.Runs()}
	runs.down.Store(true)

	w, err := New(Config{
		Tasks:            store.Tasks(),
		Runs:             runs,
		Logger:           discardLogger(),
		StoreRetryWindow: time.Millisecond,
	})
	require.NoError(t, err)

	msg := mq.TaskMessage{TaskID: taskID(t, plan, "only"), RunID: plan.Run.ID, Type: "echo"}
	assert.Equal(t, mq.OutcomeRequeue, w.Handle(context.Background(), msg))
	assert.Equal(t, domain.TaskStatusSucceeded, getTask(t, store, msg.TaskID).Status)
	assert.Equal(t, domain.RunStatusRunning, getRun(t, store, plan.Run.ID).Status)

	runs.down.Store(false)
	assert.Equal(t, mq.OutcomeAck, w.Handle(context.Background(), msg))
	assert.Equal(t, domain.RunStatusSucceeded, getRun(t, store, plan.Run.ID).Status)
	assert.Equal(t, 1, getTask(t, store, msg.TaskID).Attempt)
}

func TestProcessor_RedeliverySkipsDependents(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, `
name: chain
tasks:
  - name: a
    params: {delay_ms: 0, fail: nope}
  - name: b
    dependsOn: [a]
`, nil)
	tasks := &flakyTasks{TaskStore: store.Tasks()}
	tasks.down.Store(true)

	p, err := NewProcessor(ProcessorConfig{
		Tasks:            tasks,
		Runs:             store.Runs(),
		Logger:           discardLogger(),
		Sleep:            noSleep,
		StoreRetryWindow: time.Millisecond,
	})
	require.NoError(t, err)

	id := taskID(t, plan, "a")
	_, err = p.Process(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, domain.TaskStatusFailed, getTask(t, store, id).Status)
	assert.Equal(t, domain.TaskStatusPending, getTask(t, store, taskID(t, plan, "b")).Status)

	tasks.down.Store(false)
	res, err := p.Process(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.TaskStatusFailed, res.Status)
	assert.Equal(t, domain.RunStatusFailed, res.RunStatus)
	assert.Equal(t, domain.TaskStatusSkipped, getTask(t, store, taskID(t, plan, "b")).Status)
}

func TestProcessor_RunningElsewhereIsNoop(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)
	p := newProcessor(t, store)
	id := taskID(t, plan, "only")

	_, claimed, err := store.Tasks().Claim(context.Background(), id)
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := p.Process(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Empty(t, res.Status)
	assert.Equal(t, domain.RunStatusRunning, getRun(t, store, plan.Run.ID).Status)
}
