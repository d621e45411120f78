package factory

import (
	"context"
	"crypto/subtle"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type coreAuthParams struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CoreAuthHandler authorizes requests by API key. Key comparison is
// constant time. An empty key list denies everything.
type CoreAuthHandler struct {
	keys []string
}

// NewCoreAuthHandler is the "core" authorization-handler constructor.
func NewCoreAuthHandler(_ context.Context, _ string, params map[string]any) (any, error) {
	var p coreAuthParams
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindAuthHandler, Name: "core", Err: err}
	}
	return &CoreAuthHandler{keys: p.APIKeys}, nil
}

var _ contracts.AuthHandler = (*CoreAuthHandler)(nil)

func (h *CoreAuthHandler) Authorize(_ context.Context, credential, _, _ string) (bool, error) {
	if credential == "" {
		return false, nil
	}
	for _, key := range h.keys {
		if subtle.ConstantTimeCompare([]byte(credential), []byte(key)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// AllowAllAuthHandler grants every request. Development only.
type AllowAllAuthHandler struct{}

// NewAllowAllAuthHandler is the "allow-all" authorization-handler
// constructor.
func NewAllowAllAuthHandler(_ context.Context, _ string, _ map[string]any) (any, error) {
	return &AllowAllAuthHandler{}, nil
}

var _ contracts.AuthHandler = (*AllowAllAuthHandler)(nil)

func (h *AllowAllAuthHandler) Authorize(_ context.Context, _, _, _ string) (bool, error) {
	return true, nil
}
