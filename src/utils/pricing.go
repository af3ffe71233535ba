package utils

import (
	"strings"

	"github.com/blipee/aiqueue/src/models"
)

// Pricing per 1M tokens (as of 2025)
const (
	// OpenAI GPT-4o
	GPT4oInputPer1M  = 2.50
	GPT4oOutputPer1M = 10.00

	// OpenAI GPT-4
	GPT4InputPer1M  = 30.00
	GPT4OutputPer1M = 60.00

	// OpenAI GPT-3.5-turbo
	GPT35InputPer1M  = 0.50
	GPT35OutputPer1M = 1.50

	// Groq-hosted Llama models
	GroqInputPer1M  = 0.10
	GroqOutputPer1M = 0.10

	// OpenAI Embeddings (text-embedding-ada-002)
	EmbeddingPer1M = 0.10

	// Output-token allowance assumed when estimating cost before a call.
	DefaultMaxOutputTokens = 1024
)

// EstimateTokenCount estimates token count from text (rough approximation).
// More accurate: ~1 token per 4 characters for English.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)

	tokenCount := len(text) / 4

	// Buffer for special tokens
	if tokenCount < 10 {
		tokenCount = 10
	}

	return tokenCount
}

// ModelCost calculates the cost of a completed call on the given model.
func ModelCost(model string, inputTokens, outputTokens int) float64 {
	inPrice, outPrice := modelPricing(model)
	return float64(inputTokens)*inPrice/1_000_000 + float64(outputTokens)*outPrice/1_000_000
}

func modelPricing(model string) (input, output float64) {
	switch {
	case strings.Contains(strings.ToLower(model), "gpt-4o"):
		return GPT4oInputPer1M, GPT4oOutputPer1M
	case strings.Contains(strings.ToLower(model), "gpt-4"):
		return GPT4InputPer1M, GPT4OutputPer1M
	case strings.Contains(strings.ToLower(model), "gpt-3.5"):
		return GPT35InputPer1M, GPT35OutputPer1M
	case strings.Contains(strings.ToLower(model), "llama"),
		strings.Contains(strings.ToLower(model), "mixtral"):
		return GroqInputPer1M, GroqOutputPer1M
	default:
		return GPT35InputPer1M, GPT35OutputPer1M
	}
}

// EstimateRequestCost predicts the spend of a request before it runs, for
// admission control. Input tokens come from the prompt text, output tokens
// from a fixed allowance: admission needs an upper bound, not an exact price.
func EstimateRequestCost(req *models.Request) float64 {
	inputTokens := EstimateTokenCount(req.PromptText())
	return ModelCost(req.Model, inputTokens, DefaultMaxOutputTokens)
}

// EmbeddingCost calculates the cost of generating an embedding.
func EmbeddingCost(tokens int) float64 {
	return float64(tokens) * EmbeddingPer1M / 1_000_000
}
