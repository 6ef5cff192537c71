// Taskflow API — HTTP API администрирования.
//
// API:
//   - Принимает workflow specs (YAML/JSON) и хранит их по имени
//   - Создаёт runs вручную (trigger)
//   - Показывает состояние runs и tasks
//
// Выполнением tasks API не занимается.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Taskflow/internal/api"
	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("ERROR", "text").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting taskflow-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "taskflow-api", cfg.OTelEnabled)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	if cfg.DBMigrate {
		if err := repo.Migrate(cfg.DBURL); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	handler := api.NewHandler(api.Config{
		Workflows: repo.NewWorkflowRepo(pool),
		Runs:      repo.NewRunRepo(pool),
		Tasks:     repo.NewTaskRepo(pool),
		DB:        pool,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
