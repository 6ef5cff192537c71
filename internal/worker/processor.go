package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

const (
	// recordTimeout — сколько ждать записи статуса после отмены ctx.
	recordTimeout = 10 * time.Second

	// DefaultStoreRetryWindow — сколько повторять запись в хранилище после выполнения.
	DefaultStoreRetryWindow = 15 * time.Second
)

// TaskStore — операции над tasks, нужные для выполнения.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Claim(ctx context.Context, id uuid.UUID) (*domain.Task, bool, error)
	BumpAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Complete(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errText string) (bool, error)
	SkipBlocked(ctx context.Context, runID uuid.UUID) (int, error)
	CountOutstanding(ctx context.Context, runID uuid.UUID) (int, error)
}

// RunStore — финализация runs.
type RunStore interface {
	Finalize(ctx context.Context, runID uuid.UUID) (domain.RunStatus, bool, error)
}

// ProcessorConfig — конфигурация Processor.
type ProcessorConfig struct {
	Tasks    TaskStore
	Runs     RunStore
	Registry *Registry // nil — NewRegistry()
	Logger   *slog.Logger

	// Sleep ждёт между повторными попытками; nil — таймер с учётом ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// StoreRetryWindow — предел повторов записи статуса; 0 — DefaultStoreRetryWindow.
	StoreRetryWindow time.Duration
}

// Processor выполняет claimed task от начала до конца:
// claim → executor с повторами → терминальный статус → skip зависимых → финализация run.
//
// Один и тот же Processor используется воркером из очереди и in-process executor'ом.
type Processor struct {
	tasks    TaskStore
	runs     RunStore
	registry *Registry
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	storeWindow time.Duration
}

// Result — итог Process.
type Result struct {
	// Claimed — false, если task уже взят кем-то другим (дубликат доставки).
	Claimed bool

	// Status — терминальный статус task; пуст, если task ещё выполняется другим.
	Status domain.TaskStatus

	// RunStatus — заполнен, если этот вызов финализировал run.
	RunStatus domain.RunStatus
}

// NewProcessor создаёт Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Tasks == nil || cfg.Runs == nil {
		return nil, ErrNoStore
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.StoreRetryWindow <= 0 {
		cfg.StoreRetryWindow = DefaultStoreRetryWindow
	}

	return &Processor{
		tasks:       cfg.Tasks,
		runs:        cfg.Runs,
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		sleep:       cfg.Sleep,
		storeWindow: cfg.StoreRetryWindow,
	}, nil
}

// Process захватывает и выполняет task.
//
// Ошибка означает сбой хранилища; при этом task может остаться в running.
// Ошибки выполнения записываются как failed и ошибкой не считаются.
//
// Если task уже терминален, Process доделывает то, что могла не успеть
// прошлая доставка: skip зависимых и финализацию run. Оба шага идемпотентны.
func (p *Processor) Process(ctx context.Context, taskID uuid.UUID) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "task.process",
		attribute.String(telemetry.AttrTaskID, taskID.String()),
	)
	defer span.End()

	task, claimed, err := p.tasks.Claim(ctx, taskID)
	if err != nil {
		telemetry.SetError(span, err)
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if !claimed {
		telemetry.Claims.WithLabelValues("duplicate").Inc()
		res, err := p.settle(ctx, taskID)
		if err != nil {
			telemetry.SetError(span, err)
			return nil, err
		}
		return res, nil
	}
	telemetry.Claims.WithLabelValues("won").Inc()

	span.SetAttributes(
		attribute.String(telemetry.AttrRunID, task.RunID.String()),
		attribute.String(telemetry.AttrTaskName, task.Name),
		attribute.String(telemetry.AttrTaskType, task.Type),
	)

	logger := telemetry.TaskLogger(p.logger, task.RunID, task.ID, task.Name)
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("task started", "type", task.Type, "attempt", task.Attempt)

	started := time.Now()
	execErr := p.execute(ctx, task, logger)
	telemetry.TaskDuration.WithLabelValues(task.Type).Observe(time.Since(started).Seconds())

	// Статус записываем даже при остановке процесса.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	result := &Result{Claimed: true, Status: domain.TaskStatusSucceeded}
	errText := ""
	if execErr != nil {
		result.Status = domain.TaskStatusFailed
		errText = execErr.Error()
		telemetry.SetError(span, execErr)
	}

	if err := p.complete(recordCtx, task, result.Status, errText); err != nil {
		telemetry.SetError(span, err)
		logger.Error("failed to record task status, task stays running", "status", result.Status, "error", err)
		return nil, err
	}
	telemetry.TaskOutcomes.WithLabelValues(string(result.Status)).Inc()

	if result.Status == domain.TaskStatusFailed {
		logger.Warn("task failed", "attempt", task.Attempt, "error", errText)
		if err := p.skipBlocked(recordCtx, task.RunID, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Info("task succeeded", "attempt", task.Attempt)
	}

	runStatus, err := p.FinalizeIfDone(recordCtx, task.RunID)
	if err != nil {
		return nil, err
	}
	result.RunStatus = runStatus

	return result, nil
}

// settle обрабатывает task, который не удалось захватить.
func (p *Processor) settle(ctx context.Context, taskID uuid.UUID) (*Result, error) {
	task, err := p.tasks.GetByID(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		p.logger.Debug("unknown task, skipping", "task_id", taskID)
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if !task.Status.IsTerminal() {
		p.logger.Debug("task already claimed, skipping", "task_id", taskID, "status", task.Status)
		return &Result{}, nil
	}

	logger := telemetry.TaskLogger(p.logger, task.RunID, task.ID, task.Name)
	if task.Status == domain.TaskStatusFailed {
		if err := p.skipBlocked(ctx, task.RunID, logger); err != nil {
			return nil, err
		}
	}
	runStatus, err := p.FinalizeIfDone(ctx, task.RunID)
	if err != nil {
		return nil, err
	}
	if runStatus != "" {
		logger.Info("run finalized on redelivery", "status", runStatus)
	}
	return &Result{Status: task.Status, RunStatus: runStatus}, nil
}

// execute выполняет task с повторами по task.Retry.
func (p *Processor) execute(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	executor, err := p.registry.Get(task.Type)
	if err != nil {
		return err
	}

	for {
		err := runExecutor(ctx, executor, task)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !task.Retry.ShouldRetry(task.Attempt) {
			return err
		}

		delay := Backoff(task.Attempt, task.Retry)
		logger.Warn("task attempt failed, retrying",
			"attempt", task.Attempt,
			"max_attempts", task.Retry.Attempts(),
			"delay", delay,
			"error", err,
		)

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}

		attempt, err := p.tasks.BumpAttempt(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("start attempt %d: %w", task.Attempt+1, err)
		}
		task.Attempt = attempt
		telemetry.TaskRetries.Inc()
	}
}

// runExecutor сводит оба вида ошибок executor'а к error.
func runExecutor(ctx context.Context, executor Executor, task *domain.Task) error {
	result, err := executor.Execute(ctx, task)
	if err != nil {
		return err
	}
	if result != nil && result.Error != "" {
		return fmt.Errorf("%w: %s", ErrExecutionFailed, result.Error)
	}
	return nil
}

func (p *Processor) complete(ctx context.Context, task *domain.Task, status domain.TaskStatus, errText string) error {
	var updated bool
	err := p.storeRetry(ctx, func() error {
		var err error
		updated, err = p.tasks.Complete(ctx, task.ID, status, errText)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if !updated {
		// Кто-то уже перевёл task в терминальный статус.
		p.logger.Warn("task was not running on completion", "task_id", task.ID, "status", status)
	}
	return nil
}

func (p *Processor) skipBlocked(ctx context.Context, runID uuid.UUID, logger *slog.Logger) error {
	var skipped int
	err := p.storeRetry(ctx, func() error {
		var err error
		skipped, err = p.tasks.SkipBlocked(ctx, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("skip blocked tasks: %w", err)
	}
	if skipped > 0 {
		telemetry.TaskOutcomes.WithLabelValues(string(domain.TaskStatusSkipped)).Add(float64(skipped))
		logger.Info("skipped blocked dependents", "count", skipped)
	}
	return nil
}

// FinalizeIfDone финализирует run, если в нём не осталось нетерминальных tasks.
// Возвращает статус, если финализировал именно этот вызов.
func (p *Processor) FinalizeIfDone(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	var (
		status    domain.RunStatus
		finalized bool
	)
	err := p.storeRetry(ctx, func() error {
		outstanding, err := p.tasks.CountOutstanding(ctx, runID)
		if err != nil {
			return err
		}
		if outstanding > 0 {
			return nil
		}
		status, finalized, err = p.runs.Finalize(ctx, runID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("finalize run: %w", err)
	}
	if !finalized {
		return "", nil
	}

	telemetry.FinalizedRuns.WithLabelValues(string(status)).Inc()
	p.logger.Info("run finished", "run_id", runID, "status", status)
	return status, nil
}
