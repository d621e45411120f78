package factory

import (
	"context"
	"fmt"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type echoParams struct {
	Prefix string `mapstructure:"prefix"`
}

// EchoLLM returns the last user message, optionally prefixed. Deterministic
// stand-in for tests and for tenants without model credentials.
type EchoLLM struct {
	prefix string
}

// NewEchoLLM is the "echo" language-model constructor.
func NewEchoLLM(_ context.Context, _ string, params map[string]any) (any, error) {
	var p echoParams
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindLLM, Name: "echo", Err: err}
	}
	return &EchoLLM{prefix: p.Prefix}, nil
}

var _ contracts.LLM = (*EchoLLM)(nil)

func (l *EchoLLM) Complete(_ context.Context, messages []models.ChatMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return l.prefix + messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("echo: no user message in conversation")
}
