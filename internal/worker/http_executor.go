package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shaiso/Taskflow/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBody — сколько байт ответа читается в outputs.
	maxResponseBody = 1 << 20
	// errorBodyPreview — сколько байт тела попадает в текст ошибки task.
	errorBodyPreview = 200
)

// HTTPExecutor выполняет task типа "http".
//
// Params:
//   - url (string): адрес запроса, обязателен
//   - method (string): GET, если не задан
//   - headers (map): заголовки запроса
//   - body (any): тело, уходит как JSON
//   - timeout_sec (number): 30 по умолчанию
//   - expect_status ([]number): допустимые коды ответа; без него успехом считается всё ниже 400
//
// В outputs попадают status_code, headers и body (разобранный JSON или строка).
// Неожиданный код ответа завершает task ошибкой, но outputs сохраняются.
type HTTPExecutor struct {
	// Client — HTTP-клиент; nil означает http.DefaultClient.
	Client *http.Client
}

type httpCall struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
	expect  []int
}

func parseHTTPCall(params map[string]any) (*httpCall, error) {
	call := &httpCall{
		method:  strings.ToUpper(getString(params, "method", http.MethodGet)),
		url:     getString(params, "url", ""),
		headers: stringMap(params["headers"]),
		timeout: getTimeout(params, defaultHTTPTimeout),
	}
	if call.url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	if body, ok := params["body"]; ok && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		call.body = raw
	}

	if codes, ok := params["expect_status"].([]any); ok {
		for _, c := range codes {
			if n, ok := toNumber(c); ok {
				call.expect = append(call.expect, int(n))
			}
		}
	}
	return call, nil
}

func (c *httpCall) accepts(status int) bool {
	if len(c.expect) > 0 {
		return slices.Contains(c.expect, status)
	}
	return status < http.StatusBadRequest
}

// Execute отправляет запрос. Сетевые сбои и таймаут возвращаются как error
// и подлежат повтору; ответ с неожиданным кодом даёт ExecutionResult.Error.
func (e *HTTPExecutor) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	call, err := parseHTTPCall(task.Params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	var body io.Reader
	if call.body != nil {
		body = bytes.NewReader(call.body)
	}
	req, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}
	if call.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	// Вызываемый сервис продолжает трейс task.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	result := &ExecutionResult{Outputs: responseOutputs(resp, raw)}
	if !call.accepts(resp.StatusCode) {
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), errorBodyPreview))
	}
	return result, nil
}

func responseOutputs(resp *http.Response, raw []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}
}

// stringMap приводит headers из YAML или JSON к map[string]string.
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
