package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blipee/aiqueue/src/models"
)

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 10, EstimateTokenCount(""), "floor for short text")
	assert.Equal(t, 10, EstimateTokenCount("hi"))
	assert.Equal(t, 25, EstimateTokenCount(strings.Repeat("a", 100)))
}

func TestModelCost(t *testing.T) {
	// 1M input + 1M output at list price.
	assert.InDelta(t, 12.50, ModelCost("gpt-4o", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 90.00, ModelCost("gpt-4", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 2.00, ModelCost("gpt-3.5-turbo", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.20, ModelCost("llama-3.1-8b-instant", 1_000_000, 1_000_000), 1e-9)

	// "gpt-4o" must not fall into the plain gpt-4 tier.
	assert.Less(t, ModelCost("gpt-4o-mini", 1000, 1000), ModelCost("gpt-4-turbo", 1000, 1000))

	// Unknown models price at the mid tier.
	assert.InDelta(t, ModelCost("gpt-3.5-turbo", 500, 500), ModelCost("some-future-model", 500, 500), 1e-9)
}

func TestEstimateRequestCost(t *testing.T) {
	req := &models.Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: "user", Content: strings.Repeat("x", 400)}},
	}

	// 100 input tokens plus the fixed output allowance.
	want := ModelCost("gpt-4o", 100, DefaultMaxOutputTokens)
	assert.InDelta(t, want, EstimateRequestCost(req), 1e-9)
	assert.Greater(t, EstimateRequestCost(req), 0.0)
}

func TestEmbeddingCost(t *testing.T) {
	assert.InDelta(t, 0.10, EmbeddingCost(1_000_000), 1e-9)
	assert.Zero(t, EmbeddingCost(0))
}
