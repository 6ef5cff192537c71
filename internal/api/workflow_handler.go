package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/engine"
)

// maxSpecSize — максимальный размер тела с spec.
const maxSpecSize = 1 << 20

// ListWorkflows возвращает список workflows.
// GET /api/v1/workflows?limit=...
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	workflows, err := h.workflows.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowFromDomain(wf)
	}

	List(w, result, len(result))
}

// ApplyWorkflow загружает spec (YAML или JSON) и создаёт или заменяет workflow по имени.
// POST /api/v1/workflows
func (h *Handler) ApplyWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSpecSize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	spec, err := engine.ParseSpec(body)
	if err != nil {
		if errors.Is(err, engine.ErrEmptySpec) {
			BadRequest(w, err.Error())
			return
		}
		ValidationFailed(w, err)
		return
	}

	wf, err := engine.NewWorkflow(spec, time.Now().UTC())
	if err != nil {
		ValidationFailed(w, err)
		return
	}

	if err := h.workflows.Upsert(r.Context(), wf); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	h.logger.Info("workflow applied",
		"workflow_id", wf.ID,
		"name", wf.Name,
		"version", wf.Version,
		"tasks", len(wf.Spec.Tasks),
	)

	Created(w, ApplyWorkflowResponse{
		ID:        wf.ID,
		Name:      wf.Name,
		Version:   wf.Version,
		NextDueAt: wf.NextDueAt,
	})
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(*wf))
}

// TriggerWorkflow создаёт run со всеми tasks и рёбрами одной транзакцией.
// POST /api/v1/workflows/{id}/trigger
func (h *Handler) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	plan, err := engine.PlanRun(wf, time.Now().UTC())
	if err != nil {
		// Сохранённый spec уже прошёл валидацию при загрузке.
		InternalError(w, h.logger, err)
		return
	}

	if err := h.runs.CreateWithTasks(r.Context(), plan.Run, plan.Tasks, plan.Dependencies); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	h.logger.Info("run triggered",
		"workflow_id", wf.ID,
		"run_id", plan.Run.ID,
		"tasks", len(plan.Tasks),
	)

	Created(w, TriggerResponse{RunID: plan.Run.ID, Tasks: len(plan.Tasks)})
}
