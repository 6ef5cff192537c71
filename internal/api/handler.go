package api

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/repo"
)

// WorkflowStore — операции над workflows, нужные API.
type WorkflowStore interface {
	Upsert(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	List(ctx context.Context, limit int) ([]domain.Workflow, error)
}

// RunStore — операции над runs, нужные API.
type RunStore interface {
	CreateWithTasks(ctx context.Context, run *domain.Run, tasks []domain.Task, deps []domain.TaskDependency) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// TaskStore — операции над tasks, нужные API.
type TaskStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Task, error)
	ListDependencies(ctx context.Context, runID uuid.UUID) ([]domain.TaskDependency, error)
}

// Pinger проверяет доступность хранилища для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflows WorkflowStore
	runs      RunStore
	tasks     TaskStore
	db        Pinger
	validate  *validator.Validate
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Workflows WorkflowStore
	Runs      RunStore
	Tasks     TaskStore
	DB        Pinger // опционально
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		workflows: cfg.Workflows,
		runs:      cfg.Runs,
		tasks:     cfg.Tasks,
		db:        cfg.DB,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "api"),
	}
}
