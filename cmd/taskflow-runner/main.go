// Taskflow Runner — выполняет один run целиком в текущем процессе.
//
// Использование:
//
//	taskflow-runner RUN_ID                 # run из БД, без шины
//	taskflow-runner --spec workflow.yaml   # spec из файла, хранилище в памяти
//
// Код выхода 1, если run завершился со статусом failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/inprocess"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/repo/memstore"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

// errRunFailed — run завершился со статусом failed.
var errRunFailed = errors.New("run failed")

func main() {
	var (
		specFile    string
		concurrency int
	)

	rootCmd := &cobra.Command{
		Use:           "taskflow-runner [RUN_ID]",
		Short:         "Execute a single run in-process",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var status domain.RunStatus
			switch {
			case specFile != "" && len(args) == 0:
				status, err = runSpec(ctx, cfg, specFile, concurrency)
			case specFile == "" && len(args) == 1:
				status, err = runStored(ctx, cfg, args[0], concurrency)
			default:
				return errors.New("pass either RUN_ID or --spec")
			}
			if err != nil {
				return err
			}

			logger.Info("run finished", "status", status)
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status == domain.RunStatusFailed {
				return errRunFailed
			}
			return nil
		},
	}

	rootCmd.Flags().StringVar(&specFile, "spec", "", "Run a workflow spec file against an in-memory store")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum tasks executed at once (0 = unlimited)")

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// runStored выполняет существующий run из БД.
func runStored(ctx context.Context, cfg *config.Config, rawID string, concurrency int) (domain.RunStatus, error) {
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", rawID, err)
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL, int32(cfg.DBMaxConns))
	if err != nil {
		return "", fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	executor, err := inprocess.New(inprocess.Config{
		Tasks:       repo.NewTaskRepo(pool),
		Runs:        repo.NewRunRepo(pool),
		Interval:    cfg.InProcessInterval,
		Concurrency: concurrency,
	})
	if err != nil {
		return "", err
	}
	return executor.Run(ctx, runID)
}

// runSpec загружает spec из файла в память, создаёт run и выполняет его.
func runSpec(ctx context.Context, cfg *config.Config, path string, concurrency int) (domain.RunStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read spec: %w", err)
	}

	spec, err := engine.ParseSpec(data)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	wf, err := engine.NewWorkflow(spec, now)
	if err != nil {
		return "", err
	}

	store := memstore.New()
	if err := store.Workflows().Upsert(ctx, wf); err != nil {
		return "", err
	}

	plan, err := engine.PlanRun(wf, now)
	if err != nil {
		return "", err
	}
	if err := store.Runs().CreateWithTasks(ctx, plan.Run, plan.Tasks, plan.Dependencies); err != nil {
		return "", err
	}

	executor, err := inprocess.New(inprocess.Config{
		Tasks:       store.Tasks(),
		Runs:        store.Runs(),
		Interval:    cfg.InProcessInterval,
		Concurrency: concurrency,
	})
	if err != nil {
		return "", err
	}
	return executor.Run(ctx, plan.Run.ID)
}
