package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
)

// Executor — интерфейс для выполнения конкретного типа task.
//
// Реализации: EchoExecutor, HTTPExecutor, ShellExecutor.
// task.Params содержит параметры из спецификации workflow.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error)
}

// ExecutorFunc позволяет использовать функцию как Executor.
type ExecutorFunc func(ctx context.Context, task *domain.Task) (*ExecutionResult, error)

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	return f(ctx, task)
}

// ExecutionResult — результат выполнения task.
type ExecutionResult struct {
	// Outputs — выходные данные выполнения.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Registry — реестр executor'ов по типу task.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry создаёт реестр с executor'ами echo, http и shell.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register(domain.TaskTypeEcho, &EchoExecutor{})
	r.Register(domain.TaskTypeHTTP, &HTTPExecutor{})
	r.Register(domain.TaskTypeShell, &ShellExecutor{})
	return r
}

// Register добавляет или заменяет executor для типа task.
func (r *Registry) Register(taskType string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = executor
}

// Get возвращает executor для типа task.
func (r *Registry) Get(taskType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTaskType, taskType)
	}
	return executor, nil
}

// Types возвращает зарегистрированные типы в алфавитном порядке.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
