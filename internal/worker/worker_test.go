package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/repo/memstore"
)

// pump публикует готовые tasks так же, как диспетчер: publish, затем pending → ready.
func pump(t *testing.T, store *memstore.Store, bus mq.Publisher) {
	t.Helper()
	ctx := context.Background()

	tasks, err := store.Tasks().ListReady(ctx, 100)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, bus.PublishTask(ctx, mq.TaskMessage{
			TaskID: task.ID, RunID: task.RunID, Name: task.Name, Type: task.Type,
		}))
		_, err := store.Tasks().MarkReady(ctx, task.ID)
		require.NoError(t, err)
	}
}

func runUntilFinished(t *testing.T, store *memstore.Store, bus *mq.MemoryBus, runID uuid.UUID, workers int) *domain.Run {
	t.Helper()

	var ws []*Worker
	for i := 0; i < workers; i++ {
		w, err := New(Config{Tasks: store.Tasks(), Runs: store.Runs(), Source: bus, Logger: discardLogger()})
		require.NoError(t, err)
		require.NoError(t, w.Start(context.Background()))
		ws = append(ws, w)
	}
	defer func() {
		for _, w := range ws {
			w.Stop()
			assert.True(t, w.IsStopped())
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pump(t, store, bus)
		if run := getRun(t, store, runID); run.Status.IsTerminal() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return nil
}

func TestWorker_EndToEnd_Chain(t *testing.T) {
	store := memstore.New()
	bus := mq.NewMemoryBus(mq.MemoryBusConfig{}, discardLogger())
	defer bus.Close()

	plan := seed(t, store, `
name: a-then-b
tasks:
  - name: a
    params: {delay_ms: 0}
  - name: b
    dependsOn: [a]
    params: {delay_ms: 0}
`, nil)

	run := runUntilFinished(t, store, bus, plan.Run.ID, 1)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)

	a := getTask(t, store, taskID(t, plan, "a"))
	b := getTask(t, store, taskID(t, plan, "b"))
	assert.Equal(t, domain.TaskStatusSucceeded, a.Status)
	assert.Equal(t, domain.TaskStatusSucceeded, b.Status)
	assert.False(t, b.StartedAt.Before(*a.FinishedAt), "b must start after a finished")
}

func TestWorker_EndToEnd_UnknownTypeWithSibling(t *testing.T) {
	store := memstore.New()
	bus := mq.NewMemoryBus(mq.MemoryBusConfig{}, discardLogger())
	defer bus.Close()

	plan := seed(t, store, `
name: mixed
tasks:
  - name: bad
  - name: good
    params: {delay_ms: 0}
`, func(tasks []domain.Task) {
		for i := range tasks {
			if tasks[i].Name == "bad" {
				tasks[i].Type = "ftp"
			}
		}
	})

	// Второй воркер получает те же сообщения: дубликаты не выполняются повторно.
	run := runUntilFinished(t, store, bus, plan.Run.ID, 2)
	assert.Equal(t, domain.RunStatusFailed, run.Status)

	bad := getTask(t, store, taskID(t, plan, "bad"))
	good := getTask(t, store, taskID(t, plan, "good"))
	assert.Equal(t, domain.TaskStatusFailed, bad.Status)
	assert.Contains(t, bad.Error, "unknown task type")
	assert.Equal(t, domain.TaskStatusSucceeded, good.Status)
	assert.Equal(t, 1, good.Attempt)
}

func TestWorker_ConcurrentDeliveryRunsOnce(t *testing.T) {
	store := memstore.New()
	plan := seed(t, store, single, nil)

	var mu sync.Mutex
	calls := 0
	registry := NewRegistry()
	registry.Register(domain.TaskTypeEcho, ExecutorFunc(func(context.Context, *domain.Task) (*ExecutionResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &ExecutionResult{}, nil
	}))

	w, err := New(Config{Tasks: store.Tasks(), Runs: store.Runs(), Registry: registry, Logger: discardLogger()})
	require.NoError(t, err)

	msg := mq.TaskMessage{TaskID: taskID(t, plan, "only"), RunID: plan.Run.ID, Type: "echo"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, mq.OutcomeAck, w.Handle(context.Background(), msg))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.RunStatusSucceeded, getRun(t, store, plan.Run.ID).Status)
}
