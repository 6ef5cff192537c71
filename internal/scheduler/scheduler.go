package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

const defaultBatchSize = 100

// WorkflowStore — операции над workflows с расписанием.
type WorkflowStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error)
	AdvanceSchedule(ctx context.Context, id uuid.UUID, prev, next time.Time) (bool, error)
}

// RunCreator создаёт run вместе с tasks и рёбрами.
type RunCreator interface {
	CreateWithTasks(ctx context.Context, run *domain.Run, tasks []domain.Task, deps []domain.TaskDependency) error
}

// Scheduler запускает workflows по cron-расписанию.
type Scheduler struct {
	workflows WorkflowStore
	runs      RunCreator
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Workflows WorkflowStore
	Runs      RunCreator
	Logger    *slog.Logger
	BatchSize int // количество workflows за один тик (default: 100)

	// Now — источник времени; nil — time.Now.
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		workflows: cfg.Workflows,
		runs:      cfg.Runs,
		logger:    logger.With("module", "scheduler"),
		batchSize: batchSize,
		now:       now,
	}
}

// Tick выполняет один тик планировщика и возвращает число созданных runs.
//
// 1. Находит due workflows (next_due_at <= now)
// 2. Сдвигает next_due_at условным обновлением (old → next)
// 3. Только выигравший сдвиг создаёт run
//
// Ошибки одного workflow не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()

	workflows, err := s.workflows.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due workflows: %w", err)
	}

	if len(workflows) == 0 {
		return 0, nil
	}

	s.logger.Debug("found due workflows", "count", len(workflows))

	var created int
	for i := range workflows {
		wf := &workflows[i]

		runCreated, err := s.trigger(ctx, wf, now)
		if err != nil {
			s.logger.Error("failed to trigger scheduled workflow",
				"workflow_id", wf.ID,
				"workflow_name", wf.Name,
				"error", err,
			)
			continue
		}
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(workflows),
		"runs_created", created,
	)

	return created, nil
}

// trigger сдвигает расписание и создаёт run.
// Возвращает false, если сдвиг уже сделал другой процесс.
func (s *Scheduler) trigger(ctx context.Context, wf *domain.Workflow, now time.Time) (bool, error) {
	if wf.NextDueAt == nil {
		return false, nil
	}

	// Пропущенные запуски не догоняем: следующий — после now.
	next, err := engine.NextDue(wf.Schedule, now)
	if err != nil {
		return false, fmt.Errorf("calculate next due: %w", err)
	}

	advanced, err := s.workflows.AdvanceSchedule(ctx, wf.ID, *wf.NextDueAt, next)
	if err != nil {
		return false, fmt.Errorf("advance schedule: %w", err)
	}
	if !advanced {
		s.logger.Debug("schedule already advanced", "workflow_id", wf.ID)
		return false, nil
	}

	plan, err := engine.PlanRun(wf, now)
	if err != nil {
		return false, fmt.Errorf("plan run: %w", err)
	}

	if err := s.runs.CreateWithTasks(ctx, plan.Run, plan.Tasks, plan.Dependencies); err != nil {
		return false, fmt.Errorf("create run: %w", err)
	}

	telemetry.WorkflowLogger(s.logger, wf.ID).Info("created run from schedule",
		"run_id", plan.Run.ID,
		"workflow_name", wf.Name,
		"scheduled_at", wf.NextDueAt,
		"next_due_at", next,
	)

	return true, nil
}
