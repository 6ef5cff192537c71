package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/repo"
)

// ErrorCode — машинно-читаемый код в теле ошибки.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeValidation    ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
)

// ErrorResponse — тело любого неуспешного ответа: {"error": {...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail описывает ошибку. Task и Field заполняются, когда spec
// workflow отклонён из-за конкретного task или поля.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Task    string    `json:"task,omitempty"`
	Field   string    `json:"field,omitempty"`
}

// DataResponse оборачивает одиночный объект: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse оборачивает коллекцию вместе с её размером.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON пишет status и тело в формате JSON.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, DataResponse{Data: data}) }

func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, DataResponse{Data: data}) }

func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

func writeError(w http.ResponseWriter, status int, detail ErrorDetail) {
	JSON(w, status, ErrorResponse{Error: detail})
}

// Error пишет ошибку без привязки к task или полю.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeError(w, status, ErrorDetail{Code: code, Message: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InternalError логирует причину, а клиенту отдаёт только общий текст.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// ValidationFailed отвечает 422. Для engine.ValidationError в ответ
// попадают имя task и поле; для ошибок validator первое неверное поле.
func ValidationFailed(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Code: ErrCodeValidation, Message: err.Error()}

	var specErr *engine.ValidationError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &specErr):
		detail.Task, detail.Field = specErr.Task, specErr.Field
	case errors.As(err, &fieldErrs) && len(fieldErrs) > 0:
		detail.Field = fieldErrs[0].Field()
	}

	writeError(w, http.StatusUnprocessableEntity, detail)
}

// HandleRepoError отвечает клиенту по ошибке хранилища и сообщает,
// был ли ответ записан. При err == nil ничего не пишет.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
