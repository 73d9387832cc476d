// Package inmemory provides a JobRepository held in process memory.
//
// The repository stores detached copies of the records, so callers never share state with it.
// Writes made with a transaction in the context are staged and applied only when that
// transaction commits (see tx.RegisterAfterCommit), so a rolled back chunk leaves no trace.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Module provides InMemoryJobRepository as the repository.JobRepository.
var Module = fx.Provide(fx.Annotate(NewInMemoryJobRepository, fx.As(new(repository.JobRepository))))

// InMemoryJobRepository keeps job executions, step executions in creation order and the
// latest checkpoint of each step.
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	stepOrder      []string
	checkpoints    map[string]*model.CheckpointData
}

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpoints:    make(map[string]*model.CheckpointData),
	}
}

// apply runs write immediately, or after commit when ctx carries a synchronizing transaction.
func (r *InMemoryJobRepository) apply(ctx context.Context, write func()) {
	locked := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		write()
	}
	if current, ok := tx.FromContext(ctx); ok {
		tx.RegisterAfterCommit(current, locked)
		return
	}
	locked()
}

func (r *InMemoryJobRepository) hasJobExecution(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobExecutions[id]
	return ok
}

// SaveJobExecution stores a new JobExecution. Saving a known ID is an error.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if r.hasJobExecution(jobExecution.ID) {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	r.putJobExecution(ctx, jobExecution)
	return nil
}

// UpdateJobExecution replaces a stored JobExecution.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if !r.hasJobExecution(jobExecution.ID) {
		return fmt.Errorf("JobExecution with ID %s not found for update: %w", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}
	r.putJobExecution(ctx, jobExecution)
	return nil
}

func (r *InMemoryJobRepository) putJobExecution(ctx context.Context, jobExecution *model.JobExecution) {
	cloned := jobExecution.Clone()
	r.apply(ctx, func() { r.jobExecutions[cloned.ID] = cloned })
}

// FindJobExecutionByID returns a copy of the JobExecution with its StepExecutions attached.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobExecution, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	cloned := jobExecution.Clone()
	for _, se := range r.stepExecutionsOfLocked(id) {
		cloned.AddStepExecution(se)
	}
	return cloned, nil
}

// SaveCheckpointData overwrites the checkpoint of data.StepExecutionID.
func (r *InMemoryJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	cloned := copyCheckpoint(data)
	r.apply(ctx, func() { r.checkpoints[cloned.StepExecutionID] = cloned })
	return nil
}

func (r *InMemoryJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.checkpoints[stepExecutionID]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return copyCheckpoint(data), nil
}

func copyCheckpoint(data *model.CheckpointData) *model.CheckpointData {
	return &model.CheckpointData{
		StepExecutionID:  data.StepExecutionID,
		ExecutionContext: data.ExecutionContext.Copy(),
		LastUpdated:      data.LastUpdated,
	}
}

// Close does nothing.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
