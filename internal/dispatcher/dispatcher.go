package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/lock"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

// Default configuration values.
const (
	DefaultLockKey      = "scheduler:leader"
	DefaultLockTTL      = 2 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultBatchSize    = 200

	releaseTimeout = 2 * time.Second
)

// TaskStore — операции над tasks, нужные диспетчеру.
type TaskStore interface {
	ListReady(ctx context.Context, limit int) ([]domain.Task, error)
	MarkReady(ctx context.Context, id uuid.UUID) (bool, error)
}

// Locker — распределённый lock лидера.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// CronTrigger запускает workflows по расписанию (scheduler.Scheduler).
type CronTrigger interface {
	Tick(ctx context.Context) (int, error)
}

// Dispatcher публикует готовые tasks в шину.
//
// На каждом тике диспетчер пытается стать лидером. Лидер:
//   - запускает due workflows по расписанию
//   - находит готовые tasks (все зависимости succeeded)
//   - публикует каждый task, затем условно переводит pending → ready
//
// Lock ограничивает только дублирующее сканирование: повторная публикация
// безопасна, потому что воркер захватывает task условным обновлением.
type Dispatcher struct {
	tasks     TaskStore
	locker    Locker
	publisher mq.Publisher
	cron      CronTrigger

	lockKey      string
	lockTTL      time.Duration
	owner        string
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	Tasks     TaskStore
	Lock      Locker
	Publisher mq.Publisher

	// Cron (опционально) — вызывается лидером на каждом тике.
	Cron CronTrigger

	LockKey      string        // default: scheduler:leader
	LockTTL      time.Duration // default: 2s
	PollInterval time.Duration // default: 500ms
	BatchSize    int           // default: 200

	// Owner — токен владельца lock; пустой — генерируется.
	Owner string

	Logger *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Tasks == nil || cfg.Lock == nil || cfg.Publisher == nil {
		return nil, errors.New("dispatcher: tasks, lock and publisher are required")
	}

	d := &Dispatcher{
		tasks:        cfg.Tasks,
		locker:       cfg.Lock,
		publisher:    cfg.Publisher,
		cron:         cfg.Cron,
		lockKey:      cfg.LockKey,
		lockTTL:      cfg.LockTTL,
		owner:        cfg.Owner,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger,
	}

	if d.lockKey == "" {
		d.lockKey = DefaultLockKey
	}
	if d.lockTTL <= 0 {
		d.lockTTL = DefaultLockTTL
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.owner == "" {
		d.owner = lock.NewOwnerToken("dispatcher")
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("module", "dispatcher", "owner", d.owner)

	return d, nil
}

// Owner возвращает токен владельца lock этого процесса.
func (d *Dispatcher) Owner() string {
	return d.owner
}

// Start запускает цикл диспетчера в фоне.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"poll_interval", d.pollInterval,
		"batch_size", d.batchSize,
		"lock_key", d.lockKey,
		"lock_ttl", d.lockTTL,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	return nil
}

// Stop останавливает Dispatcher.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// pollLoop — цикл тиков. Ошибки тика логируются, цикл продолжается.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick выполняет один тик и возвращает число опубликованных tasks.
// Если lock занят другим процессом, ничего не делает.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	acquired, err := d.locker.Acquire(ctx, d.lockKey, d.owner, d.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire leader lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	telemetry.LeaderAcquisitions.Inc()

	defer d.release(ctx)

	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopHeartbeat := d.heartbeat(leaderCtx, cancel)
	defer stopHeartbeat()

	if d.cron != nil {
		if _, err := d.cron.Tick(leaderCtx); err != nil {
			d.logger.Error("cron trigger failed", "error", err)
		}
	}

	return d.dispatchReady(leaderCtx)
}

// dispatchReady публикует готовые tasks.
// Порядок важен: сначала publish, потом pending → ready. Сбой между ними
// оставляет task pending, и следующий тик опубликует его ещё раз.
func (d *Dispatcher) dispatchReady(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.scan")
	defer span.End()

	tasks, err := d.tasks.ListReady(ctx, d.batchSize)
	if err != nil {
		telemetry.SetError(span, err)
		return 0, fmt.Errorf("list ready tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("taskflow.dispatch.ready", len(tasks)))

	if len(tasks) == 0 {
		return 0, nil
	}

	var dispatched int
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := &tasks[i]

		msg := mq.TaskMessage{
			TaskID: task.ID,
			RunID:  task.RunID,
			Name:   task.Name,
			Type:   task.Type,
		}
		if err := d.publisher.PublishTask(ctx, msg); err != nil {
			d.logger.Error("failed to publish task", "task_id", task.ID, "run_id", task.RunID, "error", err)
			continue
		}

		if _, err := d.tasks.MarkReady(ctx, task.ID); err != nil {
			// Сообщение уже в шине; повторная публикация на следующем тике безопасна.
			d.logger.Warn("failed to mark task ready", "task_id", task.ID, "error", err)
		}

		dispatched++
		telemetry.DispatchedTasks.Inc()
	}

	d.logger.Debug("dispatched ready tasks", "ready", len(tasks), "dispatched", dispatched)
	return dispatched, nil
}

// heartbeat продлевает lock каждые ttl/3, пока идёт тик.
// Потеря lock отменяет критическую секцию через lost.
func (d *Dispatcher) heartbeat(ctx context.Context, lost context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(d.lockTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := d.locker.Renew(ctx, d.lockKey, d.owner, d.lockTTL)
				if err != nil {
					d.logger.Warn("failed to renew leader lock", "error", err)
					continue
				}
				if !ok {
					d.logger.Warn("leader lock lost, aborting tick")
					lost()
					return
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

// release отпускает lock; ошибки не фатальны — lock истечёт по TTL.
func (d *Dispatcher) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := d.locker.Release(ctx, d.lockKey, d.owner); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			d.logger.Debug("leader lock already expired")
			return
		}
		d.logger.Warn("failed to release leader lock", "error", err)
	}
}
