// Package sql provides a GORM implementation of the JobRepository interface.
//
// Writes made with a GORM chunk transaction in the context join that transaction. Writes
// made under any other synchronizing transaction are deferred until it commits, matching
// the in-memory repository.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormJobRepository implements the repository.JobRepository interface.
type GormJobRepository struct {
	conn *gormadaptor.GormDBAdapter
}

// NewGormJobRepository creates a repository over conn. The schema must exist (see Migrate).
func NewGormJobRepository(conn *gormadaptor.GormDBAdapter) *GormJobRepository {
	return &GormJobRepository{conn: conn}
}

// db returns the *gorm.DB for reads, bound to the chunk transaction when there is one.
func (r *GormJobRepository) db(ctx context.Context) *gorm.DB {
	return gormadaptor.DB(ctx, r.conn.GormDB())
}

// write runs fn with the executor that matches the transaction carried by ctx.
func (r *GormJobRepository) write(ctx context.Context, op string, fn func(ctx context.Context, exec tx.TxExecutor) error) error {
	current, ok := tx.FromContext(ctx)
	if !ok {
		return fn(ctx, r.conn)
	}
	if _, joined := current.(*gormadaptor.GormTxAdapter); joined {
		return fn(ctx, current)
	}
	if s, deferred := current.(tx.Synchronizer); deferred {
		detached := context.WithoutCancel(ctx)
		s.AfterCommit(func() {
			if err := fn(detached, r.conn); err != nil {
				logger.Errorf("%s: deferred write failed after commit: %v", op, err)
			}
		})
		return nil
	}
	return fn(ctx, r.conn)
}

func (r *GormJobRepository) wrap(op, message string, err error) error {
	if gormadaptor.IsTableNotExistError(err) {
		message += " (repository schema missing; run the migrations)"
	}
	return exception.NewBatchError(op, message, err, false, gormadaptor.IsRetryable(err))
}

// --- JobExecution implementation ---

func (r *GormJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "GormJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(jobExecution)
	return r.write(ctx, op, func(ctx context.Context, exec tx.TxExecutor) error {
		if _, err := exec.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
			if gormadaptor.IsDuplicateKeyError(err) {
				return fmt.Errorf("JobExecution with ID %s already exists: %w", entity.ID, err)
			}
			return r.wrap(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", entity.ID), err)
		}
		return nil
	})
}

func (r *GormJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "GormJobRepository.UpdateJobExecution"
	exists, err := r.exists(ctx, &JobExecutionEntity{}, "id = ?", jobExecution.ID)
	if err != nil {
		return r.wrap(op, fmt.Sprintf("failed to look up JobExecution (ID: %s)", jobExecution.ID), err)
	}
	if !exists {
		return fmt.Errorf("JobExecution with ID %s not found for update: %w", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}

	entity := fromDomainJobExecution(jobExecution)
	return r.write(ctx, op, func(ctx context.Context, exec tx.TxExecutor) error {
		if _, err := exec.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"id"}, jobExecutionUpdateColumns); err != nil {
			return r.wrap(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", entity.ID), err)
		}
		return nil
	})
}

// FindJobExecutionByID finds a JobExecution and loads its StepExecutions.
func (r *GormJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "GormJobRepository.FindJobExecutionByID"
	var entity JobExecutionEntity
	if err := r.db(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || gormadaptor.IsTableNotExistError(err) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, r.wrap(op, fmt.Sprintf("failed to find JobExecution by ID: %s", executionID), err)
	}

	je := toDomainJobExecution(&entity)
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		je.AddStepExecution(se)
	}
	return je, nil
}

// --- StepExecution implementation ---

// CreateStepExecution allocates a StepExecution on jobExecution and persists it.
func (r *GormJobRepository) CreateStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepName string) (*model.StepExecution, error) {
	if jobExecution == nil {
		return nil, fmt.Errorf("cannot create StepExecution '%s' without a JobExecution", stepName)
	}
	se := jobExecution.CreateStepExecution(stepName)
	if err := r.SaveStepExecution(ctx, se); err != nil {
		return nil, err
	}
	return se, nil
}

func (r *GormJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "GormJobRepository.SaveStepExecution"
	exists, err := r.exists(ctx, &StepExecutionEntity{}, "id = ?", stepExecution.ID)
	if err != nil {
		return r.wrap(op, fmt.Sprintf("failed to look up StepExecution (ID: %s)", stepExecution.ID), err)
	}
	if exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	return r.UpdateStepExecution(ctx, stepExecution)
}

// UpdateStepExecution upserts the record keyed by its ID.
func (r *GormJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "GormJobRepository.UpdateStepExecution"
	stepExecution.Touch()
	entity := fromDomainStepExecution(stepExecution)
	return r.write(ctx, op, func(ctx context.Context, exec tx.TxExecutor) error {
		if _, err := exec.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"id"}, stepExecutionUpdateColumns); err != nil {
			return r.wrap(op, fmt.Sprintf("failed to update StepExecution (ID: %s)", entity.ID), err)
		}
		return nil
	})
}

// UpdateExecutionContext stores the ExecutionContext of stepExecution as checkpoint data.
func (r *GormJobRepository) UpdateExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	snapshot := stepExecution.Clone()
	return r.SaveCheckpointData(ctx, &model.CheckpointData{
		StepExecutionID:  snapshot.ID,
		ExecutionContext: snapshot.ExecutionContext,
		LastUpdated:      snapshot.LastUpdated,
	})
}

// FindStepExecutionByID finds a StepExecution. The returned record carries the latest checkpoint data.
func (r *GormJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "GormJobRepository.FindStepExecutionByID"
	var entity StepExecutionEntity
	if err := r.db(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || gormadaptor.IsTableNotExistError(err) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, r.wrap(op, fmt.Sprintf("failed to find StepExecution by ID: %s", executionID), err)
	}

	se := toDomainStepExecution(&entity)
	data, err := r.FindCheckpointData(ctx, executionID)
	switch {
	case err == nil:
		se.ExecutionContext = data.ExecutionContext
	case !errors.Is(err, repository.ErrCheckpointDataNotFound):
		return nil, err
	}
	return se, nil
}

// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution in start order.
func (r *GormJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "GormJobRepository.FindStepExecutionsByJobExecutionID"
	var entities []StepExecutionEntity
	if err := r.db(ctx).Where("job_execution_id = ?", jobExecutionID).Order("start_time, id").Find(&entities).Error; err != nil {
		if gormadaptor.IsTableNotExistError(err) {
			return []*model.StepExecution{}, nil
		}
		return nil, r.wrap(op, fmt.Sprintf("failed to find StepExecutions of JobExecution %s", jobExecutionID), err)
	}
	if len(entities) == 0 {
		return []*model.StepExecution{}, nil
	}

	ids := make([]string, len(entities))
	for i := range entities {
		ids[i] = entities[i].ID
	}
	var checkpoints []CheckpointDataEntity
	if err := r.db(ctx).Where("step_execution_id IN ?", ids).Find(&checkpoints).Error; err != nil && !gormadaptor.IsTableNotExistError(err) {
		return nil, r.wrap(op, "failed to load checkpoint data", err)
	}
	byStep := make(map[string]model.ExecutionContext, len(checkpoints))
	for _, cp := range checkpoints {
		byStep[cp.StepExecutionID] = cp.ExecutionContext
	}

	result := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		se := toDomainStepExecution(&entities[i])
		if ec, ok := byStep[se.ID]; ok {
			se.ExecutionContext = nonNilContext(ec)
		}
		result = append(result, se)
	}
	return result, nil
}

// --- CheckpointData implementation ---

func (r *GormJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	const op = "GormJobRepository.SaveCheckpointData"
	entity := fromDomainCheckpointData(data)
	return r.write(ctx, op, func(ctx context.Context, exec tx.TxExecutor) error {
		if _, err := exec.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"step_execution_id"}, checkpointDataUpdateColumns); err != nil {
			return r.wrap(op, fmt.Sprintf("failed to save checkpoint data (StepExecutionID: %s)", entity.StepExecutionID), err)
		}
		return nil
	})
}

func (r *GormJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	const op = "GormJobRepository.FindCheckpointData"
	var entity CheckpointDataEntity
	if err := r.db(ctx).Where("step_execution_id = ?", stepExecutionID).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || gormadaptor.IsTableNotExistError(err) {
			return nil, repository.ErrCheckpointDataNotFound
		}
		return nil, r.wrap(op, fmt.Sprintf("failed to find checkpoint data (StepExecutionID: %s)", stepExecutionID), err)
	}
	return toDomainCheckpointData(&entity), nil
}

func (r *GormJobRepository) exists(ctx context.Context, entity interface{}, query string, args ...interface{}) (bool, error) {
	var n int64
	if err := r.db(ctx).Model(entity).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close does nothing: the connection is owned by whoever opened it.
func (r *GormJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*GormJobRepository)(nil)
