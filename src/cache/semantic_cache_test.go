package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blipee/aiqueue/src/models"
)

func newTestCache(t *testing.T, opts Options) (*SemanticCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSemanticCache(client, opts), mr
}

func response(content string) *models.ProviderResult {
	return &models.ProviderResult{
		Content:  content,
		Provider: "openai",
		Model:    "gpt-4o",
		Usage:    models.UsageStats{TokensIn: 12, TokensOut: 40, CostUSD: 0.0005},
	}
}

func TestSemanticCache_LookupMissOnEmptyScope(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	result, err := c.Lookup(context.Background(), "org-1", "gpt-4", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSemanticCache_StoreThenLookup(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()

	embedding := []float32{0.6, 0.8, 0}
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", embedding, response("cached answer")))

	result, err := c.Lookup(ctx, "org-1", "gpt-4", embedding)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "cached answer", result.Record.Response.Content)
	assert.InDelta(t, 1.0, result.Similarity, 1e-9)
	assert.Equal(t, 1, result.Record.HitCount)

	// Second hit on the same record bumps the count again.
	result, err = c.Lookup(ctx, "org-1", "gpt-4", embedding)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Record.HitCount)
}

func TestSemanticCache_ThresholdRejectsDissimilar(t *testing.T) {
	c, _ := newTestCache(t, Options{SimilarityThreshold: 0.92})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{1, 0}, response("a")))

	// cos([1,0],[1,0.1]) ~= 0.995: above threshold.
	result, err := c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 0.1})
	require.NoError(t, err)
	assert.NotNil(t, result)

	// cos([1,0],[1,1]) ~= 0.707: below threshold.
	result, err = c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 1})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSemanticCache_MostSimilarRecordWins(t *testing.T) {
	c, _ := newTestCache(t, Options{SimilarityThreshold: 0.5})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{1, 0.4}, response("close")))
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{1, 0.05}, response("closest")))

	result, err := c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 0})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "closest", result.Record.Response.Content)
}

func TestSemanticCache_ScopedByOrgAndFamily(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()

	embedding := []float32{1, 0, 0}
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", embedding, response("org-1 answer")))

	result, err := c.Lookup(ctx, "org-2", "gpt-4", embedding)
	require.NoError(t, err)
	assert.Nil(t, result, "other tenants must not see the record")

	result, err = c.Lookup(ctx, "org-1", "llama-3.1", embedding)
	require.NoError(t, err)
	assert.Nil(t, result, "other model families must not see the record")

	result, err = c.Lookup(ctx, "org-1", "gpt-4", embedding)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestSemanticCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, Options{CapacityPerScope: 2})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{1, 0, 0}, response("a")))
	time.Sleep(3 * time.Millisecond)
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{0, 1, 0}, response("b")))
	time.Sleep(3 * time.Millisecond)
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{0, 0, 1}, response("c")))

	// Oldest access ("a") was evicted; the newer two remain.
	result, err := c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = c.Lookup(ctx, "org-1", "gpt-4", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestSemanticCache_HitProtectsRecordFromEviction(t *testing.T) {
	c, _ := newTestCache(t, Options{CapacityPerScope: 2})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{1, 0, 0}, response("a")))
	time.Sleep(3 * time.Millisecond)
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{0, 1, 0}, response("b")))
	time.Sleep(3 * time.Millisecond)

	// Touch "a" so "b" becomes the least recently used.
	_, err := c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 0, 0})
	require.NoError(t, err)
	time.Sleep(3 * time.Millisecond)

	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", []float32{0, 0, 1}, response("c")))

	result, err := c.Lookup(ctx, "org-1", "gpt-4", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.NotNil(t, result, "recently hit record survives")

	result, err = c.Lookup(ctx, "org-1", "gpt-4", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.Nil(t, result, "least recently used record evicted")
}

func TestSemanticCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, Options{TTL: 24 * time.Hour})
	ctx := context.Background()

	embedding := []float32{1, 0, 0}
	require.NoError(t, c.Store(ctx, "org-1", "gpt-4", embedding, response("a")))

	mr.FastForward(25 * time.Hour)

	result, err := c.Lookup(ctx, "org-1", "gpt-4", embedding)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), "length mismatch")
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}), "zero vector")
}

func TestModelFamily(t *testing.T) {
	cases := map[string]string{
		"gpt-4":                "gpt-4",
		"gpt-4-turbo":          "gpt-4",
		"gpt-4o":               "gpt-4o",
		"gpt-3.5-turbo":        "gpt-3.5",
		"llama-3.1-8b-instant": "llama-3.1",
		"claude":               "claude",
		"":                     "unknown",
	}
	for model, family := range cases {
		assert.Equal(t, family, ModelFamily(model), "model %q", model)
	}
}
