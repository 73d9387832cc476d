package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// MockJobRepository is a mock implementation of repository.JobRepository.
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) SaveJobExecution(ctx context.Context, je *model.JobExecution) error {
	return m.Called(ctx, je).Error(0)
}

func (m *MockJobRepository) UpdateJobExecution(ctx context.Context, je *model.JobExecution) error {
	return m.Called(ctx, je).Error(0)
}

func (m *MockJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobExecution), args.Error(1)
}

func (m *MockJobRepository) CreateStepExecution(ctx context.Context, je *model.JobExecution, stepName string) (*model.StepExecution, error) {
	args := m.Called(ctx, je, stepName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StepExecution), args.Error(1)
}

func (m *MockJobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	return m.Called(ctx, se).Error(0)
}

func (m *MockJobRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	return m.Called(ctx, se).Error(0)
}

func (m *MockJobRepository) UpdateExecutionContext(ctx context.Context, se *model.StepExecution) error {
	return m.Called(ctx, se).Error(0)
}

func (m *MockJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StepExecution), args.Error(1)
}

func (m *MockJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, id string) ([]*model.StepExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.StepExecution), args.Error(1)
}

func (m *MockJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	return m.Called(ctx, data).Error(0)
}

func (m *MockJobRepository) FindCheckpointData(ctx context.Context, id string) (*model.CheckpointData, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckpointData), args.Error(1)
}

func (m *MockJobRepository) Close() error {
	return m.Called().Error(0)
}

var _ repository.JobRepository = (*MockJobRepository)(nil)
