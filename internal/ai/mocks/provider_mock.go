package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/ai"
	"fable-server/internal/prompt"
)

// MockProvider is a mock type for the Provider type
type MockProvider struct {
	mock.Mock
}

func (_m *MockProvider) Name() string {
	ret := _m.Called()
	return ret.String(0)
}

func (_m *MockProvider) Generate(ctx context.Context, p prompt.PromptSet, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	ret := _m.Called(ctx, p, params)

	var r1 ai.UsageInfo
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(ai.UsageInfo)
	}
	return ret.String(0), r1, ret.Error(2)
}

var _ ai.Provider = (*MockProvider)(nil)

// MockGenerator is a mock type for the Generator type
type MockGenerator struct {
	mock.Mock
}

func (_m *MockGenerator) Generate(ctx context.Context, p prompt.PromptSet, params ai.GenerationParams) (ai.RawModelOutput, error) {
	ret := _m.Called(ctx, p, params)

	var r0 ai.RawModelOutput
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(ai.RawModelOutput)
	}
	return r0, ret.Error(1)
}

var _ ai.Generator = (*MockGenerator)(nil)
