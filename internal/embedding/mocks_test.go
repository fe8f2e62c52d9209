package embedding

import (
	"context"
	"fmt"
)

// MockEngine implements Engine for testing.
type MockEngine struct {
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsFunc func() int
	NameFunc       func() string

	EmbedCalls      int
	EmbedBatchCalls int
}

func (m *MockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.EmbedBatchCalls++
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return result, nil
}

func (m *MockEngine) Dimensions() int {
	if m.DimensionsFunc != nil {
		return m.DimensionsFunc()
	}
	return 4
}

func (m *MockEngine) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-engine"
}

var _ Engine = (*MockEngine)(nil)

// MockErrorEngine always returns errors.
type MockErrorEngine struct{}

func (m *MockErrorEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("mock error")
}

func (m *MockErrorEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("mock error")
}

func (m *MockErrorEngine) Dimensions() int { return 4 }

func (m *MockErrorEngine) Name() string { return "mock-error-engine" }

var _ Engine = (*MockErrorEngine)(nil)
