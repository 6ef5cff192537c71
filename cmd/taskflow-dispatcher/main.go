// Taskflow Dispatcher — публикует готовые tasks в шину.
//
// Dispatcher:
//   - Берёт leader lock в Redis на каждом тике
//   - Лидер запускает workflows по cron-расписанию
//   - Лидер публикует pending tasks, все зависимости которых succeeded
//
// Можно запускать несколько экземпляров: сканирует только лидер.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/dispatcher"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/scheduler"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("ERROR", "text").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting taskflow-dispatcher")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "taskflow-dispatcher", cfg.OTelEnabled)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Redis lock
	locker, closeRedis, err := cfg.NewLocker()
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer closeRedis()

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.AMQPURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(mqConn, cfg.Topology()); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	workflows := repo.NewWorkflowRepo(pool)
	runs := repo.NewRunRepo(pool)

	cron := scheduler.New(scheduler.Config{
		Workflows: workflows,
		Runs:      runs,
		Logger:    logger,
	})

	d, err := dispatcher.New(dispatcher.Config{
		Tasks:        repo.NewTaskRepo(pool),
		Lock:         locker,
		Publisher:    mq.NewPublisher(mqConn, cfg.AMQPExchange, logger),
		Cron:         cron,
		LockKey:      cfg.LockKey,
		LockTTL:      cfg.LockTTL,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.DispatchBatchSize,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			http.Error(w, "amqp disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.HTTPPort
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	d.Stop()
	logger.Info("taskflow-dispatcher stopped")
}
