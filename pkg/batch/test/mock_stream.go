package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MockStreamParticipant is a mock implementation of port.ItemStream.
type MockStreamParticipant struct {
	mock.Mock
}

func (m *MockStreamParticipant) Open(ctx context.Context, ec model.ExecutionContext) error {
	return m.Called(ctx, ec).Error(0)
}

func (m *MockStreamParticipant) Update(ctx context.Context, ec model.ExecutionContext) error {
	return m.Called(ctx, ec).Error(0)
}

func (m *MockStreamParticipant) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// CounterParticipant writes the number of times it has been updated under Key.
type CounterParticipant struct {
	Key     string
	Updates int
}

// Update implements port.StreamParticipant.
func (p *CounterParticipant) Update(ctx context.Context, ec model.ExecutionContext) error {
	p.Updates++
	ec.Put(p.Key, p.Updates)
	return nil
}

var (
	_ port.ItemStream        = (*MockStreamParticipant)(nil)
	_ port.StreamParticipant = (*CounterParticipant)(nil)
)
