package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Допустимые типы tasks.
var validTaskTypes = map[string]bool{
	domain.TaskTypeEcho:  true,
	domain.TaskTypeHTTP:  true,
	domain.TaskTypeShell: true,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// rawSpec — документ в том виде, как он пришёл от пользователя.
// Указатели отличают "поле не задано" от нулевого значения.
type rawSpec struct {
	Name     string    `yaml:"name"`
	Version  *int      `yaml:"version"`
	Schedule string    `yaml:"schedule"`
	Tasks    []rawTask `yaml:"tasks"`
}

type rawTask struct {
	Name      string         `yaml:"name"`
	Type      *string        `yaml:"type"`
	Params    map[string]any `yaml:"params"`
	DependsOn []string       `yaml:"dependsOn"`
	Retry     *rawRetry      `yaml:"retry"`
}

type rawRetry struct {
	MaxAttempts *int        `yaml:"maxAttempts"`
	Backoff     *rawBackoff `yaml:"backoff"`
}

type rawBackoff struct {
	InitialMs *int     `yaml:"initialMs"`
	Factor    *float64 `yaml:"factor"`
	Jitter    *float64 `yaml:"jitter"`
}

// ParseSpec парсит WorkflowSpec из YAML или JSON (JSON — подмножество YAML),
// применяет значения по умолчанию и валидирует результат.
func ParseSpec(data []byte) (*domain.WorkflowSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptySpec
	}

	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewValidationError("", "", fmt.Sprintf("decode spec: %v", err), ErrInvalidField)
	}

	spec := raw.toSpec()
	if err := Validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (r rawSpec) toSpec() *domain.WorkflowSpec {
	spec := &domain.WorkflowSpec{
		Name:     strings.TrimSpace(r.Name),
		Version:  domain.DefaultSpecVersion,
		Schedule: strings.TrimSpace(r.Schedule),
		Tasks:    make([]domain.TaskSpec, 0, len(r.Tasks)),
	}
	if r.Version != nil {
		spec.Version = *r.Version
	}

	for _, rt := range r.Tasks {
		ts := domain.TaskSpec{
			Name:      strings.TrimSpace(rt.Name),
			Type:      domain.TaskTypeEcho,
			Params:    rt.Params,
			DependsOn: rt.DependsOn,
			Retry:     domain.DefaultRetryPolicy(),
		}
		if rt.Type != nil {
			ts.Type = *rt.Type
		}
		if rt.Retry != nil {
			if rt.Retry.MaxAttempts != nil {
				ts.Retry.MaxAttempts = *rt.Retry.MaxAttempts
			}
			if b := rt.Retry.Backoff; b != nil {
				if b.InitialMs != nil {
					ts.Retry.Backoff.InitialMs = *b.InitialMs
				}
				if b.Factor != nil {
					ts.Retry.Backoff.Factor = *b.Factor
				}
				if b.Jitter != nil {
					ts.Retry.Backoff.Jitter = *b.Jitter
				}
			}
		}
		spec.Tasks = append(spec.Tasks, ts)
	}
	return spec
}

// Validate выполняет полную валидацию WorkflowSpec.
//
// Проверяет:
// - Наличие tasks
// - Уникальность имён tasks
// - Корректность типов и числовых полей
// - Валидность зависимостей (dependsOn)
// - Отсутствие циклов (делегируется DAG)
// - Корректность cron-выражения
func Validate(spec *domain.WorkflowSpec) error {
	if spec == nil || len(spec.Tasks) == 0 {
		return NewValidationError("", "tasks", "workflow spec has no tasks", ErrEmptyTasks)
	}

	names := make(map[string]bool, len(spec.Tasks))
	for i := range spec.Tasks {
		if err := ValidateTask(&spec.Tasks[i], names); err != nil {
			return err
		}
	}

	if err := validateStruct(spec); err != nil {
		return err
	}

	if err := validateDependencies(spec.Tasks, names); err != nil {
		return err
	}

	if spec.Schedule != "" {
		if err := ValidateCronExpr(spec.Schedule); err != nil {
			return NewValidationError("", "schedule", err.Error(), ErrInvalidSchedule)
		}
	}

	if _, err := BuildDAG(spec); err != nil {
		return err
	}
	return nil
}

// ValidateTask валидирует один task.
// names — уже встреченные имена (для проверки уникальности).
func ValidateTask(task *domain.TaskSpec, names map[string]bool) error {
	if task.Name == "" {
		return NewValidationError("", "name", "task has empty name", ErrEmptyTaskName)
	}

	if names[task.Name] {
		return NewValidationError(task.Name, "name",
			fmt.Sprintf("duplicate task name: %s", task.Name), ErrDuplicateTaskName)
	}
	names[task.Name] = true

	if !validTaskTypes[task.Type] {
		return NewValidationError(task.Name, "type",
			fmt.Sprintf("unknown task type: %s", task.Type), ErrUnknownTaskType)
	}

	for _, dep := range task.DependsOn {
		if dep == task.Name {
			return NewValidationError(task.Name, "dependsOn",
				"task depends on itself", ErrSelfDependency)
		}
	}
	return nil
}

// validateStruct проверяет теги validate (диапазоны чисел, длины строк).
func validateStruct(spec *domain.WorkflowSpec) error {
	err := validate.Struct(spec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate spec: %w", err)
	}

	fe := fieldErrs[0]
	task := taskFromNamespace(spec, fe.Namespace())
	return NewValidationError(task, fe.Field(),
		fmt.Sprintf("field %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()), ErrInvalidField)
}

// taskFromNamespace достаёт имя task из пути вида "WorkflowSpec.Tasks[2].Retry.Backoff.Factor".
func taskFromNamespace(spec *domain.WorkflowSpec, ns string) string {
	start := strings.Index(ns, "Tasks[")
	if start < 0 {
		return ""
	}
	rest := ns[start+len("Tasks["):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return ""
	}
	var idx int
	if _, err := fmt.Sscanf(rest[:end], "%d", &idx); err != nil || idx < 0 || idx >= len(spec.Tasks) {
		return ""
	}
	return spec.Tasks[idx].Name
}

// validateDependencies проверяет, что все dependsOn ссылаются на существующие tasks.
func validateDependencies(tasks []domain.TaskSpec, names map[string]bool) error {
	for i := range tasks {
		task := &tasks[i]
		for _, dep := range task.DependsOn {
			if !names[dep] {
				return NewValidationError(task.Name, "dependsOn",
					fmt.Sprintf("depends on unknown task: %s", dep), ErrMissingDependency)
			}
		}
	}
	return nil
}

// IsValidTaskType проверяет, является ли тип task допустимым.
func IsValidTaskType(taskType string) bool {
	return validTaskTypes[taskType]
}
