package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type anthropicParams struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
}

// AnthropicLLM adapts the Anthropic Messages API to the LLM contract.
// System messages are lifted into the request's system blocks as the API
// requires.
type AnthropicLLM struct {
	client      *anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

// NewAnthropicLLM is the "anthropic" language-model constructor. Without an
// api_key param the client falls back to ANTHROPIC_API_KEY.
func NewAnthropicLLM(_ context.Context, _ string, params map[string]any) (any, error) {
	p := anthropicParams{Model: string(anthropic.ModelClaude3_5Sonnet20241022), Temperature: 0.7, MaxTokens: 4096}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindLLM, Name: "anthropic", Err: err}
	}

	var opts []option.RequestOption
	if p.APIKey != "" {
		opts = append(opts, option.WithAPIKey(p.APIKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicLLM{
		client:      &client,
		model:       anthropic.Model(p.Model),
		temperature: p.Temperature,
		maxTokens:   p.MaxTokens,
	}, nil
}

var _ contracts.LLM = (*AnthropicLLM)(nil)

func (l *AnthropicLLM) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	var system []anthropic.TextBlockParam
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:       l.model,
		Messages:    converted,
		MaxTokens:   l.maxTokens,
		Temperature: anthropic.Float(l.temperature),
	}
	if len(system) > 0 {
		req.System = system
	}

	resp, err := l.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}
