package factory

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type openAIParams struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
}

// OpenAILLM adapts the OpenAI Chat Completions API to the LLM contract.
type OpenAILLM struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAILLM is the "openai" language-model constructor. Without an
// api_key param the client falls back to OPENAI_API_KEY.
func NewOpenAILLM(_ context.Context, _ string, params map[string]any) (any, error) {
	p := openAIParams{Model: openai.ChatModelGPT4oMini, Temperature: 0.7, MaxTokens: 4096}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindLLM, Name: "openai", Err: err}
	}

	var opts []option.RequestOption
	if p.APIKey != "" {
		opts = append(opts, option.WithAPIKey(p.APIKey))
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	return &OpenAILLM{
		client:      openai.NewClient(opts...),
		model:       p.Model,
		temperature: p.Temperature,
		maxTokens:   p.MaxTokens,
	}, nil
}

var _ contracts.LLM = (*OpenAILLM)(nil)

func (l *OpenAILLM) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            converted,
		Model:               l.model,
		Temperature:         openai.Float(l.temperature),
		MaxCompletionTokens: openai.Int(l.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
