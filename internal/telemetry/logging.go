package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Ключи атрибутов логов.
const (
	LogKeyRun      = "run_id"
	LogKeyTask     = "task_id"
	LogKeyTaskName = "task_name"
	LogKeyWorkflow = "workflow_id"
)

var levels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

// ParseLevel переводит LOG_LEVEL в slog.Level. Неизвестное значение даёт INFO.
func ParseLevel(level string) slog.Level {
	if lvl, ok := levels[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// SetupLogger собирает логгер сервиса на stdout и делает его глобальным.
// LOG_FORMAT=text включает читаемый вывод, всё остальное пишет JSON.
func SetupLogger(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер поверх w, не трогая slog.Default.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст выполнения task.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext достаёт логгер, положенный WithLogger, иначе slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RunLogger помечает записи идентификатором run.
func RunLogger(logger *slog.Logger, runID uuid.UUID) *slog.Logger {
	return logger.With(LogKeyRun, runID.String())
}

// TaskLogger помечает записи run, task и его именем в workflow.
func TaskLogger(logger *slog.Logger, runID, taskID uuid.UUID, name string) *slog.Logger {
	return logger.With(LogKeyRun, runID.String(), LogKeyTask, taskID.String(), LogKeyTaskName, name)
}

// WorkflowLogger помечает записи идентификатором workflow.
func WorkflowLogger(logger *slog.Logger, workflowID uuid.UUID) *slog.Logger {
	return logger.With(LogKeyWorkflow, workflowID.String())
}
