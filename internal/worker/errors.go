package worker

import "errors"

// Ошибки воркера.
var (
	// ErrExecutionFailed — handler вернул логическую ошибку.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrShellCommand — команда shell не запустилась или завершилась с ненулевым кодом.
	ErrShellCommand = errors.New("shell command failed")

	// ErrNoStore — не передано хранилище tasks или runs.
	ErrNoStore = errors.New("task and run stores are required")
)
