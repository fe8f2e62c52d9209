package store

import (
	"context"
	"strings"

	"reverie/internal/embedding"
)

// MockEngine is a deterministic embedding engine for store tests. Texts
// mentioning the same keyword land on the same axis, so similarity
// assertions are exact instead of depending on a live model.
type MockEngine struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	EmbedCalls int
}

var _ embedding.Engine = (*MockEngine)(nil)

// keywordVec maps text onto one of four orthogonal axes by keyword.
func keywordVec(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cat"):
		return []float32{1, 0, 0, 0}
	case strings.Contains(lower, "dog"):
		return []float32{0, 1, 0, 0}
	case strings.Contains(lower, "weather"):
		return []float32{0, 0, 1, 0}
	default:
		return []float32{0, 0, 0, 1}
	}
}

func (m *MockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return keywordVec(text), nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEngine) Dimensions() int { return 4 }
func (m *MockEngine) Name() string    { return "mock-engine" }
