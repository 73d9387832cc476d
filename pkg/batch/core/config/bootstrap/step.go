package bootstrap

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
)

// StepDependencies collects what a chunk step needs from the application graph.
type StepDependencies struct {
	fx.In

	Config             *config.BatchConfig
	JobRepository      repository.JobRepository
	TransactionManager tx.TransactionManager
	WorkerPool         task.WorkerPool
	StepListeners      []port.StepExecutionListener `group:"stepListeners"`
	ChunkListeners     []port.ChunkListener         `group:"chunkListeners"`
	Recorder           metrics.MetricRecorder       `optional:"true"`
	Tracer             metrics.Tracer               `optional:"true"`
}

// NewChunkStep builds a chunk-oriented step from the batch section: chunk_size, the executor,
// write_empty_chunks and isolation_level. The sync executor runs chunks on the caller.
func NewChunkStep[T any](deps StepDependencies, name string, reader port.ItemReader[T], writer port.ItemWriter[T]) (*tasklet.TaskletStep, error) {
	b := tasklet.NewStepBuilder[T](name).
		Reader(reader).
		Writer(writer).
		ChunkSize(deps.Config.ChunkSize).
		Repository(deps.JobRepository).
		TransactionManager(deps.TransactionManager).
		WriteEmptyChunks(deps.Config.WriteEmptyChunks).
		IsolationLevel(deps.Config.IsolationLevel).
		Listener(deps.StepListeners...).
		ChunkListener(deps.ChunkListeners...).
		MetricRecorder(deps.Recorder).
		Tracer(deps.Tracer)
	if deps.Config.Executor.Type != config.ExecutorSync && deps.Config.Executor.Type != "" {
		b.TaskExecutor(deps.WorkerPool, deps.Config.Executor.ThrottleLimit)
	}
	return b.Build()
}
