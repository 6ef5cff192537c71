package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией, новые первыми.
// GET /api/v1/runs?workflow_id=...&status=...&limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := ListRunsQuery{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     r.URL.Query().Get("status"),
		Limit:      50,
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			BadRequest(w, "invalid limit")
			return
		}
		q.Limit = n
	}

	if err := h.validate.Struct(q); err != nil {
		ValidationFailed(w, err)
		return
	}

	filter := repo.RunFilter{
		Status: domain.RunStatus(q.Status),
		Limit:  q.Limit,
	}
	if q.WorkflowID != "" {
		id := uuid.MustParse(q.WorkflowID)
		filter.WorkflowID = &id
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run вместе с его tasks.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	tasks, err := h.tasks.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	deps, err := h.tasks.ListDependencies(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	dependsOn := make(map[string][]string, len(deps))
	for _, d := range deps {
		dependsOn[d.TaskName] = append(dependsOn[d.TaskName], d.DependsOn)
	}

	resp := RunDetailsResponse{
		Run:   RunFromDomain(*run),
		Tasks: make([]TaskResponse, len(tasks)),
	}
	for i, t := range tasks {
		resp.Tasks[i] = TaskFromDomain(t, dependsOn[t.Name])
	}

	Success(w, resp)
}

// Health проверяет доступность хранилища.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "database unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
