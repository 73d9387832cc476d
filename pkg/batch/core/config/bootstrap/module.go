// Package bootstrap assembles the framework components into an fx application according to
// the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	// Dialects available to the SQL job repository.
	_ "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm/sqlite"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	inframetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/listener"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Module returns the framework wiring for cfg: the job repository and transaction manager
// selected by infrastructure.job_repository, the worker pool of batch.executor, metrics and
// tracing, the listeners and the job launcher.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		config.SectionsModule,
		logger.Module,
		repositoryModule(cfg.Chunkflow.Infrastructure.JobRepository),
		inframetrics.Module,
		listener.Module,
		usecase.Module,
		fx.Provide(NewWorkerPool),
	)
}

func repositoryModule(cfg config.JobRepositoryConfig) fx.Option {
	switch cfg.Type {
	case config.RepositorySQL:
		logger.Debugf("Job repository: SQL (db_ref: %s).", cfg.DBRef)
		return sqlrepo.Module
	default:
		logger.Debugf("Job repository: in-memory.")
		return fx.Options(
			inmemory.Module,
			fx.Provide(fx.Annotate(tx.NewResourcelessTransactionManager, fx.As(new(tx.TransactionManager)))),
		)
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// NewWorkerPool creates the pool named by batch.executor.type. Pools that can be shut down
// are shut down when the application stops.
func NewWorkerPool(lc fx.Lifecycle, cfg *config.BatchConfig) (task.WorkerPool, error) {
	size := cfg.Executor.PoolSize
	if size <= 0 {
		size = cfg.Executor.ThrottleLimit
	}
	pool, err := task.New(cfg.Executor.Type, size)
	if err != nil {
		return nil, fmt.Errorf("batch.executor: %w", err)
	}
	if s, ok := pool.(shutdowner); ok {
		lc.Append(fx.StopHook(s.Shutdown))
	}
	return pool, nil
}
