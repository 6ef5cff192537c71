package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Taskflow/internal/repo/memstore"
)

const diamondSpec = `
name: diamond
tasks:
  - name: a
  - name: b
    dependsOn: [a]
  - name: c
    dependsOn: [a]
  - name: d
    dependsOn: [b, c]
`

type testServer struct {
	store *memstore.Store
	mux   *http.ServeMux
}

func newTestServer(t *testing.T, db Pinger) *testServer {
	t.Helper()
	store := memstore.New()
	h := NewHandler(Config{
		Workflows: store.Workflows(),
		Runs:      store.Runs(),
		Tasks:     store.Tasks(),
		DB:        db,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testServer{store: store, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Error
}

func (s *testServer) apply(t *testing.T, spec string) ApplyWorkflowResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/workflows", "application/yaml", spec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ApplyWorkflowResponse](t, rec)
}

func TestApplyWorkflow_YAML(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.apply(t, diamondSpec)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, "diamond", resp.Name)
	assert.Equal(t, 1, resp.Version)
	assert.Nil(t, resp.NextDueAt)
}

func TestApplyWorkflow_JSONUpsertsByName(t *testing.T) {
	s := newTestServer(t, nil)

	first := s.apply(t, `{"name":"etl","tasks":[{"name":"a"}]}`)

	rec := s.do(t, http.MethodPost, "/api/v1/workflows", "application/json",
		`{"name":"etl","version":2,"schedule":"*/5 * * * *","tasks":[{"name":"a"},{"name":"b","dependsOn":["a"]}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[ApplyWorkflowResponse](t, rec)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	assert.NotNil(t, second.NextDueAt)

	rec = s.do(t, http.MethodGet, "/api/v1/workflows/"+first.ID.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	wf := decode[WorkflowResponse](t, rec)
	assert.Len(t, wf.Spec.Tasks, 2)
	assert.Equal(t, "*/5 * * * *", wf.Schedule)
}

func TestApplyWorkflow_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"empty body", "", http.StatusBadRequest, ""},
		{"cycle", "name: c\ntasks:\n  - name: a\n    dependsOn: [b]\n  - name: b\n    dependsOn: [a]\n", http.StatusUnprocessableEntity, ""},
		{"unknown dependency", "name: m\ntasks:\n  - name: a\n    dependsOn: [ghost]\n", http.StatusUnprocessableEntity, "dependsOn"},
		{"bad schedule", "name: s\nschedule: nope\ntasks:\n  - name: a\n", http.StatusUnprocessableEntity, "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(t, http.MethodPost, "/api/v1/workflows", "application/yaml", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			detail := decodeError(t, rec)
			if tt.field != "" {
				assert.Equal(t, tt.field, detail.Field)
			}
		})
	}

	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/workflows", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]WorkflowResponse](t, rec))
}

func TestGetWorkflow_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/workflows/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec).Code)
}

func TestTriggerAndShowRun(t *testing.T) {
	s := newTestServer(t, nil)
	wf := s.apply(t, diamondSpec)

	rec := s.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/trigger", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trig := decode[TriggerResponse](t, rec)
	assert.Equal(t, 4, trig.Tasks)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+trig.RunID.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[RunDetailsResponse](t, rec)

	assert.Equal(t, "running", details.Run.Status)
	assert.Equal(t, wf.ID, details.Run.WorkflowID)
	require.Len(t, details.Tasks, 4)

	byName := make(map[string]TaskResponse)
	for _, task := range details.Tasks {
		byName[task.Name] = task
		assert.Equal(t, "pending", task.Status)
		assert.Equal(t, 0, task.Attempt)
	}
	assert.Empty(t, byName["a"].DependsOn)
	assert.ElementsMatch(t, []string{"b", "c"}, byName["d"].DependsOn)
}

func TestTriggerWorkflow_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/workflows/"+uuid.NewString()+"/trigger", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestServer(t, nil)
	one := s.apply(t, "name: one\ntasks:\n  - name: a\n")
	two := s.apply(t, "name: two\ntasks:\n  - name: a\n")

	for _, id := range []uuid.UUID{one.ID, one.ID, two.ID} {
		rec := s.do(t, http.MethodPost, "/api/v1/workflows/"+id.String()+"/trigger", "", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/runs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RunResponse](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?workflow_id="+one.ID.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]RunResponse](t, rec)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, one.ID, run.WorkflowID)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=succeeded", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RunResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/runs?limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RunResponse](t, rec), 1)
}

func TestListRuns_InvalidQuery(t *testing.T) {
	s := newTestServer(t, nil)

	for _, q := range []string{"workflow_id=xyz", "status=cancelled", "limit=500", "limit=ten"} {
		rec := s.do(t, http.MethodGet, "/api/v1/runs?"+q, "", "")
		assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnprocessableEntity}, rec.Code, q)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	s := newTestServer(t, pingFunc(func(context.Context) error { return nil }))
	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(t, pingFunc(func(context.Context) error { return errors.New("down") }))
	rec = s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.apply(t, "name: m\ntasks:\n  - name: a\n")

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskflow_api_http_requests_total")
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
