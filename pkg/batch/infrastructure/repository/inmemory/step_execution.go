package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// CreateStepExecution allocates a StepExecution on jobExecution and persists it.
func (r *InMemoryJobRepository) CreateStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepName string) (*model.StepExecution, error) {
	if jobExecution == nil {
		return nil, fmt.Errorf("cannot create StepExecution '%s' without a JobExecution", stepName)
	}
	se := jobExecution.CreateStepExecution(stepName)
	if err := r.SaveStepExecution(ctx, se); err != nil {
		return nil, err
	}
	return se, nil
}

// SaveStepExecution persists a new StepExecution.
// It returns an error if a StepExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.RLock()
	_, exists := r.stepExecutions[stepExecution.ID]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	return r.UpdateStepExecution(ctx, stepExecution)
}

// UpdateStepExecution stores a copy of stepExecution, inserting it when it is not yet known.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	stepExecution.Touch()
	cloned := detach(stepExecution)
	r.apply(ctx, func() {
		if _, exists := r.stepExecutions[cloned.ID]; !exists {
			r.stepOrder = append(r.stepOrder, cloned.ID)
		}
		r.stepExecutions[cloned.ID] = cloned
	})
	return nil
}

// UpdateExecutionContext stores the ExecutionContext of stepExecution as checkpoint data.
func (r *InMemoryJobRepository) UpdateExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	snapshot := stepExecution.Clone()
	return r.SaveCheckpointData(ctx, &model.CheckpointData{
		StepExecutionID:  snapshot.ID,
		ExecutionContext: snapshot.ExecutionContext,
		LastUpdated:      snapshot.LastUpdated,
	})
}

// FindStepExecutionByID finds a StepExecution by its ID.
// The returned copy carries the latest stored ExecutionContext.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return r.withContextLocked(se), nil
}

// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution in creation order.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepExecutionsOfLocked(jobExecutionID), nil
}

func (r *InMemoryJobRepository) stepExecutionsOfLocked(jobExecutionID string) []*model.StepExecution {
	result := make([]*model.StepExecution, 0)
	for _, id := range r.stepOrder {
		if se := r.stepExecutions[id]; se.JobExecutionID == jobExecutionID {
			result = append(result, r.withContextLocked(se))
		}
	}
	return result
}

func (r *InMemoryJobRepository) withContextLocked(se *model.StepExecution) *model.StepExecution {
	cloned := se.Clone()
	if data, ok := r.checkpoints[se.ID]; ok {
		cloned.ExecutionContext = data.ExecutionContext.Copy()
	}
	return cloned
}

// detach copies se without its live JobExecution back-reference.
func detach(se *model.StepExecution) *model.StepExecution {
	cloned := se.Clone()
	cloned.JobExecution = nil
	return cloned
}
