package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Типы ответов повторяют api/dto.go: CLI не зависит от internal/api.

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   int            `json:"version"`
	Schedule  string         `json:"schedule,omitempty"`
	NextDueAt string         `json:"next_due_at,omitempty"`
	Spec      map[string]any `json:"spec,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// TriggerResponse — результат ручного запуска.
type TriggerResponse struct {
	RunID string `json:"runId"`
	Tasks int    `json:"tasks"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// RunDetails — run вместе с tasks.
type RunDetails struct {
	Run   RunResponse    `json:"run"`
	Tasks []TaskResponse `json:"tasks"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// envelope — общий вид успешного ответа API: {"data": ..., "total": N}.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API с кодом >= 400.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client ходит в admin API Taskflow.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент; baseURL без завершающего слэша.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ApplyWorkflow отправляет spec без разбора: формат определяет сервер.
func (c *Client) ApplyWorkflow(ctx context.Context, spec []byte) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.call(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v1/workflows",
		body:        spec,
		contentType: "application/yaml",
	}, &wf)
	return &wf, err
}

func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/workflows"}, &workflows)
	return workflows, err
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/workflows/" + url.PathEscape(id)}, &wf)
	return &wf, err
}

// TriggerRun создаёт run workflow вне расписания.
func (c *Client) TriggerRun(ctx context.Context, workflowID string) (*TriggerResponse, error) {
	var res TriggerResponse
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/api/v1/workflows/" + url.PathEscape(workflowID) + "/trigger",
	}, &res)
	return &res, err
}

// ListRuns возвращает runs, новые первыми. Пустые поля opts не фильтруют.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	query := url.Values{}
	if opts.WorkflowID != "" {
		query.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/runs", query: query}, &runs)
	return runs, err
}

// GetRun возвращает run вместе с tasks и их зависимостями.
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetails, error) {
	var details RunDetails
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/runs/" + url.PathEscape(id)}, &details)
	return &details, err
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// call выполняет запрос и раскладывает поле data ответа в into.
func (c *Client) call(ctx context.Context, r request, into any) error {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if into == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, into)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}
