package sql

import (
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	if je == nil {
		return nil
	}
	snap := je.Clone()
	return &JobExecutionEntity{
		ID:               snap.ID,
		JobName:          snap.JobName,
		StartTime:        snap.StartTime,
		EndTime:          snap.EndTime,
		Status:           snap.Status,
		ExitStatus:       snap.ExitStatus,
		Failures:         snap.Failures,
		Version:          snap.Version,
		CreateTime:       snap.CreateTime,
		LastUpdated:      snap.LastUpdated,
		ExecutionContext: snap.ExecutionContext,
	}
}

func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	if entity == nil {
		return nil
	}
	// StepExecutions are loaded by the repository.
	return &model.JobExecution{
		ID:               entity.ID,
		JobName:          entity.JobName,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         nonNilFailures(entity.Failures),
		Version:          entity.Version,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		StepExecutions:   make([]*model.StepExecution, 0),
		ExecutionContext: nonNilContext(entity.ExecutionContext),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	snap := se.Clone()
	return &StepExecutionEntity{
		ID:               snap.ID,
		StepName:         snap.StepName,
		JobExecutionID:   snap.JobExecutionID,
		StartTime:        snap.StartTime,
		EndTime:          snap.EndTime,
		Status:           snap.Status,
		ExitStatus:       snap.ExitStatus,
		Failures:         snap.Failures,
		ReadCount:        snap.ReadCount,
		WriteCount:       snap.WriteCount,
		CommitCount:      snap.CommitCount,
		RollbackCount:    snap.RollbackCount,
		ExecutionContext: snap.ExecutionContext,
		LastUpdated:      snap.LastUpdated,
		Version:          snap.Version,
	}
}

func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	// JobExecution is hydrated by the caller.
	return &model.StepExecution{
		ID:               entity.ID,
		StepName:         entity.StepName,
		JobExecutionID:   entity.JobExecutionID,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         nonNilFailures(entity.Failures),
		ReadCount:        entity.ReadCount,
		WriteCount:       entity.WriteCount,
		CommitCount:      entity.CommitCount,
		RollbackCount:    entity.RollbackCount,
		ExecutionContext: nonNilContext(entity.ExecutionContext),
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}

func fromDomainCheckpointData(cd *model.CheckpointData) *CheckpointDataEntity {
	if cd == nil {
		return nil
	}
	return &CheckpointDataEntity{
		StepExecutionID:  cd.StepExecutionID,
		ExecutionContext: cd.ExecutionContext.Copy(),
		LastUpdated:      cd.LastUpdated,
	}
}

func toDomainCheckpointData(entity *CheckpointDataEntity) *model.CheckpointData {
	if entity == nil {
		return nil
	}
	return &model.CheckpointData{
		StepExecutionID:  entity.StepExecutionID,
		ExecutionContext: nonNilContext(entity.ExecutionContext),
		LastUpdated:      entity.LastUpdated,
	}
}

func nonNilContext(ec model.ExecutionContext) model.ExecutionContext {
	if ec == nil {
		return model.NewExecutionContext()
	}
	return ec
}

func nonNilFailures(fl model.FailureList) model.FailureList {
	if fl == nil {
		return make(model.FailureList, 0)
	}
	return fl
}
