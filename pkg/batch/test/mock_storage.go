package test

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
)

// MockStorageConnection is a mock implementation of storage.StorageConnection.
type MockStorageConnection struct {
	mock.Mock
}

func (m *MockStorageConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	return m.Called(ctx, bucket, objectName, data, contentType).Error(0)
}

func (m *MockStorageConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, objectName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStorageConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	return m.Called(ctx, bucket, prefix, fn).Error(0)
}

func (m *MockStorageConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	return m.Called(ctx, bucket, objectName).Error(0)
}

func (m *MockStorageConnection) Name() string { return "mock" }

func (m *MockStorageConnection) Type() string { return "mock" }

func (m *MockStorageConnection) Close() error {
	return m.Called().Error(0)
}

var _ storage.StorageConnection = (*MockStorageConnection)(nil)
