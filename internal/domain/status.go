package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	running → succeeded
//	        ↘ failed
//
// Переход из running в финальный статус происходит ровно один раз.
type RunStatus string

const (
	// RunStatusRunning — run создан и выполняется.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded — все tasks завершились успешно.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed — хотя бы один task завершился с ошибкой.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// ParseRunStatus парсит строку в RunStatus.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return RunStatus(s), true
	default:
		return "", false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	pending → ready → running → succeeded
//	   │                      ↘ failed
//	   └──────→ skipped (зависимость не выполнилась)
//
// Статус только растёт по rank: откат назад невозможен.
type TaskStatus string

const (
	// TaskStatusPending — task ждёт завершения зависимостей.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusReady — task опубликован в шину и ждёт воркера.
	TaskStatusReady TaskStatus = "ready"

	// TaskStatusRunning — task захвачен воркером.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded — task успешно завершён.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed — task завершился с ошибкой (после всех retry).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped — task не будет выполнен: одна из зависимостей не succeeded.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Rank возвращает порядковый номер статуса в жизненном цикле.
// Для неизвестного статуса возвращает -1.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusReady:
		return 1
	case TaskStatusRunning:
		return 2
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo проверяет, допустим ли переход s → next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch next {
	case TaskStatusReady:
		return s == TaskStatusPending
	case TaskStatusRunning:
		return s == TaskStatusPending || s == TaskStatusReady
	case TaskStatusSucceeded, TaskStatusFailed:
		return s == TaskStatusRunning
	case TaskStatusSkipped:
		return s == TaskStatusPending
	default:
		return false
	}
}

// ParseTaskStatus парсит строку в TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(s)
	if st.Rank() < 0 {
		return "", false
	}
	return st, true
}
