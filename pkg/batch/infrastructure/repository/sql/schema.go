package sql

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobExecutionEntity is a schema model used for persistence.
type JobExecutionEntity struct {
	ID               string `gorm:"primaryKey;size:36"`
	JobName          string `gorm:"size:255;not null"`
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.BatchStatus `gorm:"size:20"`
	ExitStatus       model.ExitStatus  `gorm:"size:20"`
	Failures         model.FailureList `gorm:"type:text"`
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is a schema model used for persistence.
type StepExecutionEntity struct {
	ID               string `gorm:"primaryKey;size:36"`
	StepName         string `gorm:"size:255;not null"`
	JobExecutionID   string `gorm:"size:36;index"`
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.BatchStatus `gorm:"size:20"`
	ExitStatus       model.ExitStatus  `gorm:"size:20"`
	Failures         model.FailureList `gorm:"type:text"`
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	LastUpdated      time.Time
	Version          int
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// CheckpointDataEntity is a schema model used for persistence.
type CheckpointDataEntity struct {
	StepExecutionID  string                 `gorm:"primaryKey;size:36"`
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	LastUpdated      time.Time
}

func (CheckpointDataEntity) TableName() string {
	return "batch_checkpoint_data"
}

// Columns rewritten when a record already exists.
var (
	jobExecutionUpdateColumns = []string{
		"job_name", "start_time", "end_time", "status", "exit_status", "failures",
		"version", "last_updated", "execution_context",
	}
	stepExecutionUpdateColumns = []string{
		"step_name", "job_execution_id", "start_time", "end_time", "status", "exit_status", "failures",
		"read_count", "write_count", "commit_count", "rollback_count", "execution_context",
		"last_updated", "version",
	}
	checkpointDataUpdateColumns = []string{"execution_context", "last_updated"}
)
