package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/example/numbers/internal/numbers"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config/bootstrap"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const stopTimeout = 15 * time.Second

var errJobNotCompleted = errors.New("job did not complete")

type runOptions struct {
	EnvFile    string
	Count      int
	ChunkSize  int
	Executor   string
	ParquetDir string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the numbers job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EnvFile = root.envFile
			if opts.Count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", opts.Count)
			}
			return runJob(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 25, "Number of integers to process")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 0, "Override batch.chunk_size")
	cmd.Flags().StringVar(&opts.Executor, "executor", "", "Override batch.executor.type (sync, async or bounded)")
	cmd.Flags().StringVar(&opts.ParquetDir, "parquet-dir", "", "Write Parquet part files below this directory")

	return cmd
}

func loadConfig(opts runOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.EnvFile, embeddedConfig, config.NewOsEnvironmentExpander())
	if err != nil {
		return nil, err
	}
	if opts.ChunkSize != 0 {
		cfg.Chunkflow.Batch.ChunkSize = opts.ChunkSize
	}
	if opts.Executor != "" {
		cfg.Chunkflow.Batch.Executor.Type = opts.Executor
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logging := cfg.Chunkflow.System.Logging
	if logging.Console {
		logger.UseConsoleWriter(os.Stderr)
	}
	logger.SetLogLevel(logging.Level)
	return cfg, nil
}

func runJob(ctx context.Context, opts runOptions, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	var (
		deps     bootstrap.StepDependencies
		launcher usecase.JobLauncher
		operator usecase.JobOperator
		explorer usecase.JobExplorer
	)
	app := fx.New(
		bootstrap.Module(cfg),
		fx.Populate(&deps, &launcher, &operator, &explorer),
	)
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Errorf("Failed to stop application: %v", err)
		}
	}()

	step, _, err := numbers.NewStep(deps, numbers.Options{Count: opts.Count, ParquetDir: opts.ParquetDir})
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go stopOnSignal(sigCtx, finished, operator)

	jobExecution, err := launcher.Launch(context.WithoutCancel(ctx), cfg.Chunkflow.Batch.JobName, step)
	if err != nil {
		return err
	}

	steps, err := explorer.GetStepExecutions(ctx, jobExecution.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, notification.Summary(jobExecution.Clone(), steps))

	if status := jobExecution.CurrentStatus(); status != model.BatchStatusCompleted {
		return fmt.Errorf("%w: %s", errJobNotCompleted, status)
	}
	return nil
}

// stopOnSignal asks running executions to stop at the next chunk boundary once sigCtx is done.
func stopOnSignal(sigCtx context.Context, finished <-chan struct{}, operator usecase.JobOperator) {
	select {
	case <-finished:
		return
	case <-sigCtx.Done():
	}
	for _, id := range operator.RunningExecutions() {
		logger.Warnf("Signal received. Stopping job execution %s.", id)
		if err := operator.Stop(context.Background(), id); err != nil {
			logger.Errorf("Failed to stop job execution %s: %v", id, err)
		}
	}
}
