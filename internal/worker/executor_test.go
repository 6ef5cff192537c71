package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
)

// --- HTTPExecutor Tests ---

func TestHTTPExecutor_GET_Success(t *testing.T) {
	// Создаём mock сервер, возвращающий JSON
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Custom", "test-value")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID: uuid.New(),
		Params: map[string]any{
			"method": "GET",
			"url":    server.URL,
		},
	}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}

	// Проверяем status_code
	if result.Outputs["status_code"] != http.StatusOK {
		t.Errorf("expected status 200, got %v", result.Outputs["status_code"])
	}

	// Проверяем headers
	headers, ok := result.Outputs["headers"].(map[string]string)
	if !ok {
		t.Fatal("headers should be map[string]string")
	}
	if headers["X-Custom"] != "test-value" {
		t.Errorf("expected X-Custom header, got %v", headers["X-Custom"])
	}

	// Проверяем body (должен быть распарсен как JSON)
	body, ok := result.Outputs["body"].(map[string]any)
	if !ok {
		t.Fatalf("body should be map, got %T", result.Outputs["body"])
	}
	if body["result"] != "ok" {
		t.Errorf("expected result=ok, got %v", body["result"])
	}
}

func TestHTTPExecutor_POST_WithBody(t *testing.T) {
	var receivedBody map[string]any
	var receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		receivedContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "123"})
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID: uuid.New(),
		Params: map[string]any{
			"method": "POST",
			"url":    server.URL,
			"body":   map[string]any{"name": "test"},
			"headers": map[string]any{
				"Authorization": "Bearer token123",
			},
		},
	}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}

	// Проверяем что body получен сервером
	if receivedBody["name"] != "test" {
		t.Errorf("server should receive body, got %v", receivedBody)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}
	if result.Outputs["status_code"] != http.StatusCreated {
		t.Errorf("expected status 201, got %v", result.Outputs["status_code"])
	}
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal"}`))
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID: uuid.New(),
		Params: map[string]any{
			"url": server.URL,
		},
	}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("HTTP errors should not be infrastructure errors: %v", err)
	}

	// Error должен быть заполнен
	if result.Error == "" {
		t.Error("expected execution error for 500")
	}

	// Outputs всё равно заполнены
	if result.Outputs["status_code"] != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %v", result.Outputs["status_code"])
	}
}

func TestHTTPExecutor_ExpectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	executor := &HTTPExecutor{}

	// 404 ожидаем явно: task успешен
	task := &domain.Task{ID: uuid.New(), Params: map[string]any{
		"url":           server.URL,
		"expect_status": []any{200, 404},
	}}
	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Errorf("404 is expected, got error %q", result.Error)
	}

	// 200 не входит в список, а 404 не приходит: ошибка
	task.Params["expect_status"] = []any{float64(200)}
	result, err = executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" {
		t.Error("expected error for unexpected status")
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID: uuid.New(),
		Params: map[string]any{
			"url":         server.URL,
			"timeout_sec": 0.1, // 100ms — сервер не успеет ответить
		},
	}

	_, err := executor.Execute(context.Background(), task)
	if err == nil {
		t.Error("expected error for timeout")
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID:      uuid.New(),
		Params: map[string]any{"method": "GET"},
	}

	_, err := executor.Execute(context.Background(), task)
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestHTTPExecutor_DefaultMethod(t *testing.T) {
	var receivedMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		ID: uuid.New(),
		Params: map[string]any{
			"url": server.URL,
			// method не указан — должен быть GET
		},
	}

	_, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedMethod != http.MethodGet {
		t.Errorf("expected GET by default, got %s", receivedMethod)
	}
}

func TestHTTPExecutor_CustomClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("plain text"))
	}))
	defer server.Close()

	executor := &HTTPExecutor{Client: server.Client()}
	task := &domain.Task{ID: uuid.New(), Params: map[string]any{"url": server.URL}}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Не-JSON тело возвращается строкой
	if result.Outputs["body"] != "plain text" {
		t.Errorf("expected plain text body, got %v", result.Outputs["body"])
	}
}

// --- EchoExecutor Tests ---

func TestEchoExecutor_ReturnsParams(t *testing.T) {
	executor := &EchoExecutor{}
	task := &domain.Task{
		ID:     uuid.New(),
		Name:   "say",
		Params: map[string]any{"message": "hi", "delay_ms": 0, "n": 42},
	}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs["message"] != "hi" || result.Outputs["n"] != 42 {
		t.Errorf("outputs should echo params, got %v", result.Outputs)
	}
}

func TestEchoExecutor_NilParams(t *testing.T) {
	executor := &EchoExecutor{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := executor.Execute(ctx, &domain.Task{ID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs == nil {
		t.Error("outputs should be empty map, not nil")
	}
}

func TestEchoExecutor_Delay(t *testing.T) {
	executor := &EchoExecutor{}
	task := &domain.Task{ID: uuid.New(), Params: map[string]any{"delay_ms": 50.0}}

	start := time.Now()
	if _, err := executor.Execute(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("should have waited at least 40ms")
	}
}

func TestEchoExecutor_ContextCancel(t *testing.T) {
	executor := &EchoExecutor{}
	task := &domain.Task{ID: uuid.New(), Params: map[string]any{"delay_ms": 10000}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := executor.Execute(ctx, task); err == nil {
		t.Error("expected context canceled error")
	}
}

func TestEchoExecutor_Fail(t *testing.T) {
	executor := &EchoExecutor{}

	result, err := executor.Execute(context.Background(), &domain.Task{
		Params: map[string]any{"delay_ms": 0, "fail": "boom"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "boom" {
		t.Errorf("expected execution error boom, got %q", result.Error)
	}

	task := &domain.Task{Attempt: 1, Params: map[string]any{"delay_ms": 0, "fail_attempts": 1}}
	result, _ = executor.Execute(context.Background(), task)
	if result.Error == "" {
		t.Error("attempt 1 should fail")
	}
	task.Attempt = 2
	result, _ = executor.Execute(context.Background(), task)
	if result.Error != "" {
		t.Errorf("attempt 2 should succeed, got %q", result.Error)
	}
}

// --- ShellExecutor Tests ---

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestShellExecutor_Success(t *testing.T) {
	requireShell(t)

	executor := &ShellExecutor{}
	task := &domain.Task{Params: map[string]any{
		"command": "sh",
		"args":    []any{"-c", "echo out; echo err >&2"},
	}}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}
	if result.Outputs["stdout"] != "out\n" || result.Outputs["stderr"] != "err\n" {
		t.Errorf("unexpected outputs: %v", result.Outputs)
	}
	if result.Outputs["exit_code"] != 0 {
		t.Errorf("expected exit code 0, got %v", result.Outputs["exit_code"])
	}
}

func TestShellExecutor_NonZeroExit(t *testing.T) {
	requireShell(t)

	executor := &ShellExecutor{}
	task := &domain.Task{Params: map[string]any{
		"command": "sh",
		"args":    []any{"-c", "exit 3"},
	}}

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("non-zero exit should not be infrastructure error: %v", err)
	}
	if result.Outputs["exit_code"] != 3 {
		t.Errorf("expected exit code 3, got %v", result.Outputs["exit_code"])
	}
	if result.Error == "" {
		t.Error("expected execution error for exit 3")
	}
}

func TestShellExecutor_Timeout(t *testing.T) {
	requireShell(t)

	executor := &ShellExecutor{}
	task := &domain.Task{Params: map[string]any{
		"command":     "sh",
		"args":        []any{"-c", "sleep 5"},
		"timeout_sec": 0.1,
	}}

	_, err := executor.Execute(context.Background(), task)
	if !errors.Is(err, ErrShellCommand) {
		t.Errorf("expected ErrShellCommand on timeout, got %v", err)
	}
}

func TestShellExecutor_MissingCommand(t *testing.T) {
	_, err := (&ShellExecutor{}).Execute(context.Background(), &domain.Task{Params: map[string]any{}})
	if !errors.Is(err, ErrShellCommand) {
		t.Errorf("expected ErrShellCommand, got %v", err)
	}

	_, err = (&ShellExecutor{}).Execute(context.Background(), &domain.Task{Params: map[string]any{
		"command": "definitely-not-a-binary-xyz",
	}})
	if !errors.Is(err, ErrShellCommand) {
		t.Errorf("expected ErrShellCommand for missing binary, got %v", err)
	}
}

// --- Registry Tests ---

func TestNewRegistry_DefaultExecutors(t *testing.T) {
	r := NewRegistry()

	for _, taskType := range []string{"echo", "http", "shell"} {
		executor, err := r.Get(taskType)
		if err != nil {
			t.Errorf("expected executor for %s, got error: %v", taskType, err)
		}
		if executor == nil {
			t.Errorf("executor for %s should not be nil", taskType)
		}
	}

	got := r.Types()
	if len(got) != 3 || got[0] != "echo" || got[2] != "shell" {
		t.Errorf("unexpected types: %v", got)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("unknown")
	if !errors.Is(err, engine.ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", ExecutorFunc(func(context.Context, *domain.Task) (*ExecutionResult, error) {
		return &ExecutionResult{}, nil
	}))

	executor, err := r.Get("custom")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if executor == nil {
		t.Error("custom executor should be registered")
	}
}

// --- Backoff Tests ---

func TestBackoff_Exponential(t *testing.T) {
	policy := domain.RetryPolicy{
		MaxAttempts: 5,
		Backoff:     domain.BackoffPolicy{InitialMs: 1000, Factor: 2, Jitter: 0},
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tt := range tests {
		got := Backoff(tt.attempt, policy)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	policy := domain.RetryPolicy{Backoff: domain.BackoffPolicy{InitialMs: 60000, Factor: 10}}

	if got := Backoff(5, policy); got != maxRetryDelay {
		t.Errorf("expected cap %v, got %v", maxRetryDelay, got)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	policy := domain.RetryPolicy{Backoff: domain.BackoffPolicy{InitialMs: 1000, Factor: 1, Jitter: 0.1}}

	for i := 0; i < 50; i++ {
		got := Backoff(1, policy)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds", got)
		}
	}
}

func TestBackoff_ZeroInitialMeansNoDelay(t *testing.T) {
	policy := domain.RetryPolicy{MaxAttempts: 3, Backoff: domain.BackoffPolicy{InitialMs: 0, Factor: 2}}

	for attempt := 1; attempt <= 3; attempt++ {
		if got := Backoff(attempt, policy); got != 0 {
			t.Errorf("attempt %d: expected no delay, got %v", attempt, got)
		}
	}
}

func TestBackoff_NegativeInitialUsesDefault(t *testing.T) {
	policy := domain.RetryPolicy{Backoff: domain.BackoffPolicy{InitialMs: -1, Factor: 2}}

	if got := Backoff(1, policy); got != time.Second {
		t.Errorf("expected 1s default, got %v", got)
	}
}
