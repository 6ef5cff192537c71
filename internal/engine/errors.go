package engine

import "errors"

// Ошибки валидации WorkflowSpec.
var (
	// ErrEmptySpec — пустой документ.
	ErrEmptySpec = errors.New("workflow spec is empty")

	// ErrEmptyTasks — workflow не содержит tasks.
	ErrEmptyTasks = errors.New("workflow spec has no tasks")

	// ErrEmptyTaskName — task не имеет имени.
	ErrEmptyTaskName = errors.New("task has empty name")

	// ErrDuplicateTaskName — несколько tasks с одинаковым именем.
	ErrDuplicateTaskName = errors.New("duplicate task name")

	// ErrUnknownTaskType — неизвестный тип task.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrMissingDependency — task зависит от несуществующего task.
	ErrMissingDependency = errors.New("task depends on unknown task")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — task зависит от самого себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrInvalidField — значение поля вне допустимого диапазона.
	ErrInvalidField = errors.New("invalid field value")

	// ErrInvalidSchedule — cron-выражение не парсится.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Task    string // имя task, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Task != "" {
		return "task " + e.Task + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(task, field, message string, err error) *ValidationError {
	return &ValidationError{
		Task:    task,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
