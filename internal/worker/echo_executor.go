package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

const defaultEchoDelay = 100 * time.Millisecond

// EchoExecutor — executor для task типа "echo".
//
// Ждёт delay_ms и возвращает params как outputs.
//
// Params:
//   - message (string): пишется в лог
//   - delay_ms (number): задержка. Default: 100
//   - fail (string): вернуть логическую ошибку с этим текстом
//   - fail_attempts (number): падать, пока attempt <= fail_attempts
type EchoExecutor struct{}

// Execute выполняет echo.
func (e *EchoExecutor) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	delay := defaultEchoDelay
	if v, ok := getNumber(task.Params, "delay_ms"); ok && v >= 0 {
		delay = time.Duration(v) * time.Millisecond
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	telemetry.FromContext(ctx).Info("echo",
		"task", task.Name,
		"message", getString(task.Params, "message", ""),
		"attempt", task.Attempt,
	)

	if msg := getString(task.Params, "fail", ""); msg != "" {
		return &ExecutionResult{Error: msg}, nil
	}
	if n, ok := getNumber(task.Params, "fail_attempts"); ok && float64(task.Attempt) <= n {
		return &ExecutionResult{Error: fmt.Sprintf("attempt %d failed", task.Attempt)}, nil
	}

	outputs := task.Params
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &ExecutionResult{Outputs: outputs}, nil
}
