package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/blipee/aiqueue/src/models"
	"github.com/blipee/aiqueue/src/utils"
)

// LangChainAdapter serves OpenAI-compatible endpoints (Groq and similar
// hosted model gateways) through langchaingo.
type LangChainAdapter struct {
	name     string
	model    string
	inPer1M  float64
	outPer1M float64
	llm      llms.Model
}

func NewLangChainAdapter(name, apiKey, endpoint, model string) (*LangChainAdapter, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is empty for provider %s", name)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is empty for provider %s", name)
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if endpoint != "" {
		opts = append(opts, openai.WithBaseURL(endpoint))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for provider %s: %w", name, err)
	}

	in, out := utils.ModelCost(model, 1_000_000, 0), utils.ModelCost(model, 0, 1_000_000)
	return &LangChainAdapter{
		name:     name,
		model:    model,
		inPer1M:  in,
		outPer1M: out,
		llm:      llm,
	}, nil
}

func (a *LangChainAdapter) Name() string  { return a.name }
func (a *LangChainAdapter) Model() string { return a.model }

func (a *LangChainAdapter) CostPerMTok() (input, output float64) {
	return a.inPer1M, a.outPer1M
}

func (a *LangChainAdapter) Execute(ctx context.Context, model string, messages []models.Message, timeout time.Duration) (*models.ProviderResult, error) {
	if model == "" {
		model = a.model
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := buildPrompt(messages)

	start := time.Now()
	response, err := llms.GenerateFromSinglePrompt(callCtx, a.llm, prompt, llms.WithModel(model))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s attempt exceeded %s: %w", a.name, timeout, models.ErrTimeout)
		}
		return nil, fmt.Errorf("%s generation failed: %v: %w", a.name, err, models.ErrProviderCall)
	}

	// The langchaingo single-prompt path does not expose token counts, so
	// usage falls back to the estimator.
	usage := models.UsageStats{
		TokensIn:  utils.EstimateTokenCount(prompt),
		TokensOut: utils.EstimateTokenCount(response),
	}
	usage.CostUSD = utils.ModelCost(model, usage.TokensIn, usage.TokensOut)

	return &models.ProviderResult{
		Content:  response,
		Model:    model,
		Provider: a.name,
		Usage:    usage,
		Latency:  time.Since(start),
	}, nil
}

func buildPrompt(messages []models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			sb.WriteString("Instructions: " + m.Content + "\n\n")
		case "assistant":
			sb.WriteString("Assistant: " + m.Content + "\n\n")
		default:
			sb.WriteString(m.Content + "\n\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
