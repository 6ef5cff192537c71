package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Taskflow/internal/mq"
)

// Worker потребляет готовые tasks из шины и выполняет их.
//
// Worker — stateless компонент: всё состояние в хранилище.
// Несколько экземпляров читают одну очередь; повторная доставка
// одного сообщения безопасна, потому что захват task условный.
type Worker struct {
	processor *Processor
	source    mq.Subscriber
	logger    *slog.Logger

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Хранилища
	Tasks TaskStore
	Runs  RunStore

	// Source — откуда приходят сообщения (RabbitMQ или MemoryBus).
	Source mq.Subscriber

	// Registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// StoreRetryWindow — см. ProcessorConfig.
	StoreRetryWindow time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "worker")

	processor, err := NewProcessor(ProcessorConfig{
		Tasks:    cfg.Tasks,
		Runs:     cfg.Runs,
		Registry:         cfg.Registry,
		Logger:           logger,
		StoreRetryWindow: cfg.StoreRetryWindow,
	})
	if err != nil {
		return nil, err
	}

	return &Worker{
		processor: processor,
		source:    cfg.Source,
		logger:    logger,
	}, nil
}

// Start запускает потребление в фоне.
func (w *Worker) Start(ctx context.Context) error {
	if w.source == nil {
		return errors.New("worker: message source is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.source.Consume(ctx, w.Handle); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("task consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих tasks.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// Handle обрабатывает одно сообщение о готовом task.
//
// Ack — task выполнен и статус записан, либо сообщение — дубликат.
// Requeue — сбой хранилища; повторная доставка допишет skip и финализацию.
func (w *Worker) Handle(ctx context.Context, msg mq.TaskMessage) mq.Outcome {
	w.logger.Debug("received task message",
		"task_id", msg.TaskID,
		"run_id", msg.RunID,
		"type", msg.Type,
	)

	result, err := w.processor.Process(ctx, msg.TaskID)
	if err != nil {
		w.logger.Error("failed to process task", "task_id", msg.TaskID, "error", err)
		return mq.OutcomeRequeue
	}
	if !result.Claimed {
		w.logger.Debug("duplicate delivery acked", "task_id", msg.TaskID)
	}
	return mq.OutcomeAck
}
