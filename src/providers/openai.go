package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/blipee/aiqueue/src/models"
	"github.com/blipee/aiqueue/src/utils"
)

// OpenAIAdapter executes completions against the OpenAI chat API (or any
// API-compatible endpoint when a base URL is configured).
type OpenAIAdapter struct {
	name     string
	model    string
	inPer1M  float64
	outPer1M float64
	client   *openai.Client
}

func NewOpenAIAdapter(name, apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is empty for provider %s", name)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	in, out := utils.ModelCost(model, 1_000_000, 0), utils.ModelCost(model, 0, 1_000_000)
	return &OpenAIAdapter{
		name:     name,
		model:    model,
		inPer1M:  in,
		outPer1M: out,
		client:   openai.NewClientWithConfig(cfg),
	}, nil
}

func (a *OpenAIAdapter) Name() string  { return a.name }
func (a *OpenAIAdapter) Model() string { return a.model }

func (a *OpenAIAdapter) CostPerMTok() (input, output float64) {
	return a.inPer1M, a.outPer1M
}

// Execute performs one completion attempt bounded by timeout. Deadline
// overruns surface as models.ErrTimeout so callers can tell them apart from
// other provider failures.
func (a *OpenAIAdapter) Execute(ctx context.Context, model string, messages []models.Message, timeout time.Duration) (*models.ProviderResult, error) {
	if model == "" {
		model = a.model
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s attempt exceeded %s: %w", a.name, timeout, models.ErrTimeout)
		}
		return nil, fmt.Errorf("%s completion failed: %v: %w", a.name, err, models.ErrProviderCall)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices: %w", a.name, models.ErrProviderCall)
	}

	usage := models.UsageStats{
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	usage.CostUSD = utils.ModelCost(model, usage.TokensIn, usage.TokensOut)

	return &models.ProviderResult{
		Content:  resp.Choices[0].Message.Content,
		Model:    model,
		Provider: a.name,
		Usage:    usage,
		Latency:  time.Since(start),
	}, nil
}
