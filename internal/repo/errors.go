package repo

import "errors"

var (
	// ErrNotFound — workflow, run или task с таким ID нет.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — нарушен уникальный ключ: повторный run на тот же
	// слот расписания или два task с одним именем в run.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — переход статуса запрещён для текущего состояния строки.
	ErrInvalidState = errors.New("invalid state")
)

// SkippedError пишется в error task, который не запускался, потому что
// одна из его зависимостей не завершилась успешно.
const SkippedError = "dependency did not succeed"
