package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/shaiso/Taskflow/internal/domain"
)

const defaultShellTimeout = 60 * time.Second

// ShellExecutor — executor для task типа "shell".
//
// Запускает command с args без оболочки.
//
// Params:
//   - command (string): исполняемый файл (обязательно)
//   - args ([]string): аргументы
//   - dir (string): рабочая директория
//   - timeout_sec (number): таймаут. Default: 60
//
// Ненулевой код выхода — логическая ошибка; stdout и stderr попадают в outputs.
type ShellExecutor struct{}

// Execute запускает команду.
func (e *ShellExecutor) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	command := getString(task.Params, "command", "")
	if command == "" {
		return nil, fmt.Errorf("%w: command is required", ErrShellCommand)
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(task.Params, defaultShellTimeout))
	defer cancel()

	cmd := exec.CommandContext(ctx, command, getStrings(task.Params, "args")...)
	cmd.Dir = getString(task.Params, "dir", "")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	outputs := map[string]any{
		"stdout": truncate(stdout.String(), maxResponseBody),
		"stderr": truncate(stderr.String(), maxResponseBody),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outputs["exit_code"] = 0
		return &ExecutionResult{Outputs: outputs}, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", ErrShellCommand, ctx.Err())
	case errors.As(err, &exitErr):
		outputs["exit_code"] = exitErr.ExitCode()
		return &ExecutionResult{
			Outputs: outputs,
			Error:   fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), truncate(stderr.String(), 200)),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrShellCommand, err)
	}
}
