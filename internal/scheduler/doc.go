// Package scheduler запускает workflows по cron-расписанию.
//
// Scheduler на каждом тике находит workflows с истекшим next_due_at,
// сдвигает next_due_at условным обновлением и создаёт новый run.
// Cron-выражения разбираются в engine (NextDue).
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Workflows: workflowRepo,
//	    Runs:      runRepo,
//	    Logger:    logger,
//	})
//
//	// Вызывается диспетчером на каждом тике, пока он лидер
//	if _, err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Tick() вызывает диспетчер под leader lock; условный сдвиг next_due_at
// не даёт создать два run'а на один запуск, даже если lock истёк.
package scheduler
