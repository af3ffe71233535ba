package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/blipee/aiqueue/src/models"
)

// MockProvider implements models.Provider
type MockProvider struct {
	mock.Mock
	ProviderName string
	DefaultModel string
	InPricePerM  float64
	OutPricePerM float64
}

func (m *MockProvider) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *MockProvider) Model() string {
	if m.DefaultModel != "" {
		return m.DefaultModel
	}
	return "mock-model"
}

func (m *MockProvider) CostPerMTok() (float64, float64) {
	return m.InPricePerM, m.OutPricePerM
}

func (m *MockProvider) Execute(ctx context.Context, model string, messages []models.Message, timeout time.Duration) (*models.ProviderResult, error) {
	args := m.Called(ctx, model, messages, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderResult), args.Error(1)
}

// MockEmbedder implements models.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockSubmitter implements models.Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, req *models.Request) (*models.SubmitResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubmitResult), args.Error(1)
}

func (m *MockSubmitter) Status(handle string) (*models.QueueEntry, error) {
	args := m.Called(handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueueEntry), args.Error(1)
}

func (m *MockSubmitter) Cancel(handle string) error {
	args := m.Called(handle)
	return args.Error(0)
}
