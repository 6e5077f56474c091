package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/messaging"
)

// MockImageTaskPublisher is a mock type for the ImageTaskPublisher type
type MockImageTaskPublisher struct {
	mock.Mock
}

func (_m *MockImageTaskPublisher) Publish(ctx context.Context, payload messaging.ImageTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

func (_m *MockImageTaskPublisher) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

var _ messaging.ImageTaskPublisher = (*MockImageTaskPublisher)(nil)
