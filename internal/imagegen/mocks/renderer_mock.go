package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"fable-server/internal/imagegen"
)

// MockRenderer is a mock type for the Renderer type
type MockRenderer struct {
	mock.Mock
}

func (_m *MockRenderer) RenderAndStore(ctx context.Context, segmentID uuid.UUID, prompt string, ratio string) (string, error) {
	ret := _m.Called(ctx, segmentID, prompt, ratio)
	return ret.String(0), ret.Error(1)
}

var _ imagegen.Renderer = (*MockRenderer)(nil)
