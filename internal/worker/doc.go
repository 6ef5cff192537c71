// Package worker выполняет отдельные tasks.
//
// # Обзор
//
// Worker — stateless компонент: получает сообщения о готовых tasks из шины,
// захватывает task условным обновлением и выполняет его executor'ом
// соответствующего типа. Повторная доставка сообщения безопасна: захват
// удаётся только одному процессу, остальные подтверждают дубликат.
//
// # Ключевые компоненты
//
// ## Processor
//
// Общий шаг выполнения, используемый и воркером, и in-process executor'ом:
//
//  1. Claim: pending/ready → running, attempt+1 (условно)
//  2. Executor с повторами по RetryPolicy task'а
//  3. Complete: running → succeeded|failed (условно)
//  4. При неудаче: pending-зависимые → skipped
//  5. Если нетерминальных tasks не осталось — финализация run
//
// ## Worker
//
//	w, err := worker.New(worker.Config{
//	    Tasks:  taskRepo,
//	    Runs:   runRepo,
//	    Source: consumer,
//	    Logger: logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Executor
//
// Реализации:
//   - EchoExecutor — пишет в лог и возвращает params
//   - HTTPExecutor — HTTP-запрос (method, url, headers, body, timeout)
//   - ShellExecutor — запуск команды через os/exec
//
// Неизвестный тип — ошибка выполнения без повторов.
//
// # Retry
//
// Повторы выполняются в процессе, захватившем task: статус остаётся running,
// attempt увеличивается условным обновлением. Задержка экспоненциальная
// с jitter (cenkalti/backoff).
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Ошибки выполнения (error от Execute или ExecutionResult.Error) — task failed
//   - Ошибки хранилища — сообщение возвращается в очередь (OutcomeRequeue)
package worker
