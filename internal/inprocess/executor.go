// Package inprocess выполняет один run целиком внутри процесса, без шины.
//
// Executor в цикле выбирает готовые tasks run'а и выполняет их параллельно
// тем же Processor, что и воркер. Захват task остаётся условным, поэтому
// одновременная работа диспетчера с воркерами не приводит к двойному запуску.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/telemetry"
	"github.com/shaiso/Taskflow/internal/worker"
)

// Default configuration values.
const (
	DefaultInterval  = 200 * time.Millisecond
	DefaultBatchSize = 200
)

// TaskStore — операции над tasks для in-process выполнения.
type TaskStore interface {
	worker.TaskStore
	ListReadyByRun(ctx context.Context, runID uuid.UUID, limit int) ([]domain.Task, error)
}

// RunStore — операции над runs для in-process выполнения.
type RunStore interface {
	worker.RunStore
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// Config — конфигурация Executor.
type Config struct {
	Tasks    TaskStore
	Runs     RunStore
	Registry *worker.Registry
	Logger   *slog.Logger

	Interval    time.Duration // ожидание, когда готовых нет (default: 200ms)
	BatchSize   int           // tasks за одну выборку (default: 200)
	Concurrency int           // 0 — без ограничения
}

// Executor выполняет run в текущем процессе.
type Executor struct {
	processor   *worker.Processor
	tasks       TaskStore
	runs        RunStore
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
}

// New создаёт новый Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Tasks == nil || cfg.Runs == nil {
		return nil, worker.ErrNoStore
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "inprocess")

	processor, err := worker.NewProcessor(worker.ProcessorConfig{
		Tasks:    cfg.Tasks,
		Runs:     cfg.Runs,
		Registry: cfg.Registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	e := &Executor{
		processor:   processor,
		tasks:       cfg.Tasks,
		runs:        cfg.Runs,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	return e, nil
}

// Run выполняет run до терминального статуса и возвращает его.
func (e *Executor) Run(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	logger := telemetry.RunLogger(e.logger, runID)
	logger.Info("starting in-process execution")

	for {
		ready, err := e.tasks.ListReadyByRun(ctx, runID, e.batchSize)
		if err != nil {
			return "", fmt.Errorf("list ready tasks: %w", err)
		}

		if len(ready) == 0 {
			outstanding, err := e.tasks.CountOutstanding(ctx, runID)
			if err != nil {
				return "", fmt.Errorf("count outstanding tasks: %w", err)
			}
			if outstanding == 0 {
				return e.finish(ctx, runID, logger)
			}

			// Остались running-tasks (в том числе у других процессов).
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.interval):
			}
			continue
		}

		if err := e.executeBatch(ctx, ready); err != nil {
			return "", err
		}
	}
}

// executeBatch выполняет готовые tasks параллельно.
//
// Сбой хранилища у одного task не отменяет соседей: они доводят выполнение
// и запись статуса до конца. Ошибки всех tasks возвращаются вместе после Wait.
func (e *Executor) executeBatch(ctx context.Context, ready []domain.Task) error {
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}

	var (
		mu         sync.Mutex
		duplicates int
		errs       []error
	)

	for i := range ready {
		task := ready[i]
		g.Go(func() error {
			res, err := e.processor.Process(ctx, task.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("task %s: %w", task.Name, err))
			case !res.Claimed:
				duplicates++
			}
			return nil
		})
	}
	_ = g.Wait()

	if duplicates > 0 {
		e.logger.Debug("tasks claimed elsewhere", "count", duplicates)
	}
	return errors.Join(errs...)
}

// finish финализирует run (если ещё не финализирован) и возвращает его статус.
func (e *Executor) finish(ctx context.Context, runID uuid.UUID, logger *slog.Logger) (domain.RunStatus, error) {
	status, err := e.processor.FinalizeIfDone(ctx, runID)
	if err != nil {
		return "", err
	}

	if status == "" {
		// Финализировал кто-то другой (или последний Process в этом цикле).
		run, err := e.runs.GetByID(ctx, runID)
		if err != nil {
			return "", fmt.Errorf("get run: %w", err)
		}
		if !run.Status.IsTerminal() {
			return "", errors.New("run has no outstanding tasks but is not finalized")
		}
		status = run.Status
	}

	logger.Info("in-process execution finished", "status", status)
	return status, nil
}
