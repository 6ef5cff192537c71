package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
)

// RunPlan — материализованный run: сам run, его tasks и рёбра зависимостей.
type RunPlan struct {
	Run          *domain.Run
	Tasks        []domain.Task
	Dependencies []domain.TaskDependency
}

// PlanRun строит новый run для workflow.
//
// Все tasks создаются в статусе pending с attempt = 0,
// в топологическом порядке. Рёбра копируются из dependsOn.
func PlanRun(wf *domain.Workflow, now time.Time) (*RunPlan, error) {
	dag, err := BuildDAG(&wf.Spec)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:         uuid.New(),
		WorkflowID: wf.ID,
		Status:     domain.RunStatusRunning,
		StartedAt:  &now,
		CreatedAt:  now,
	}

	plan := &RunPlan{
		Run:   run,
		Tasks: make([]domain.Task, 0, dag.Size()),
	}

	for _, spec := range dag.Tasks() {
		plan.Tasks = append(plan.Tasks, domain.Task{
			ID:        uuid.New(),
			RunID:     run.ID,
			Name:      spec.Name,
			Type:      spec.Type,
			Params:    spec.Params,
			Retry:     spec.Retry,
			Status:    domain.TaskStatusPending,
			CreatedAt: now,
		})

		for _, dep := range spec.DependsOn {
			plan.Dependencies = append(plan.Dependencies, domain.TaskDependency{
				RunID:     run.ID,
				TaskName:  spec.Name,
				DependsOn: dep,
			})
		}
	}

	return plan, nil
}

// NewWorkflow строит workflow из валидной спецификации.
// Для workflow с расписанием вычисляется первый NextDueAt после now.
func NewWorkflow(spec *domain.WorkflowSpec, now time.Time) (*domain.Workflow, error) {
	wf := &domain.Workflow{
		Name:     spec.Name,
		Version:  spec.Version,
		Spec:     *spec,
		Schedule: spec.Schedule,
	}

	if spec.Schedule != "" {
		next, err := NextDue(spec.Schedule, now)
		if err != nil {
			return nil, NewValidationError("", "schedule", err.Error(), ErrInvalidSchedule)
		}
		wf.NextDueAt = &next
	}

	return wf, nil
}
