package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"reverie/internal/logging"
)

// =============================================================================
// LRU CACHE WRAPPER
// =============================================================================

// CachedEngine fronts another engine with an LRU keyed by exact text.
// The pipeline embeds the same content repeatedly (append, then recall),
// so even a small cache removes most provider round trips.
type CachedEngine struct {
	inner Engine
	cache *lru.Cache[string, []float32]
}

// NewCachedEngine wraps an engine with an LRU of the given size.
func NewCachedEngine(inner Engine, size int) (*CachedEngine, error) {
	if inner == nil {
		return nil, fmt.Errorf("cached engine requires an inner engine")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEngine{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when available, otherwise delegates.
func (e *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		logging.EmbeddingDebug("cache hit (%d entries)", e.cache.Len())
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}

// EmbedBatch serves hits from the cache and batches only the misses to
// the inner engine.
func (e *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := e.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("engine returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Add(missTexts[j], vec)
	}
	return out, nil
}

// Dimensions returns the inner engine's dimensionality.
func (e *CachedEngine) Dimensions() int {
	return e.inner.Dimensions()
}

// Name returns the inner engine name tagged with the cache.
func (e *CachedEngine) Name() string {
	return e.inner.Name() + "+lru"
}

// HealthCheck delegates when the inner engine supports it.
func (e *CachedEngine) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
