package factory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ── Hash embedder ────────────────────────────────────────────

type hashEmbedderParams struct {
	Dimensions int `mapstructure:"dimensions"`
}

// HashEmbedder produces deterministic unit vectors from a SHA-256 expansion
// of the text. No semantic meaning; equal texts embed identically, which is
// enough for tests and offline tenants.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder is the "hash" embedder constructor.
func NewHashEmbedder(_ context.Context, _ string, params map[string]any) (any, error) {
	p := hashEmbedderParams{Dimensions: 384}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindEmbedder, Name: "hash", Err: err}
	}
	if p.Dimensions <= 0 {
		return nil, ParamError{Kind: models.KindEmbedder, Name: "hash", Err: fmt.Errorf("dimensions must be positive, got %d", p.Dimensions)}
	}
	return &HashEmbedder{dims: p.Dimensions}, nil
}

var _ contracts.Embedder = (*HashEmbedder)(nil)

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, e.dims)
	}
	return out, nil
}

// hashVector expands sha256(text || counter) into dims floats in [-1, 1]
// and normalizes to unit length.
func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	var norm float64
	var counter uint32
	var block [32]byte
	for i := 0; i < dims; i++ {
		if i%8 == 0 {
			h := sha256.New()
			h.Write([]byte(text))
			var cb [4]byte
			binary.BigEndian.PutUint32(cb[:], counter)
			h.Write(cb[:])
			h.Sum(block[:0])
			counter++
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4:])
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// ── OpenAI embedder ──────────────────────────────────────────

type openAIEmbedderParams struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

// OpenAIEmbedder calls the OpenAI embeddings API. Supports
// text-embedding-3-small (1536d), text-embedding-3-large (3072d) and
// text-embedding-ada-002 (1536d).
type OpenAIEmbedder struct {
	apiKey   string
	model    string
	endpoint string
	dims     int
	client   *http.Client
}

// NewOpenAIEmbedder is the "openai" embedder constructor.
func NewOpenAIEmbedder(_ context.Context, _ string, params map[string]any) (any, error) {
	p := openAIEmbedderParams{Model: "text-embedding-3-small", Endpoint: "https://api.openai.com/v1/embeddings"}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindEmbedder, Name: "openai", Err: err}
	}
	if p.APIKey == "" {
		return nil, ParamError{Kind: models.KindEmbedder, Name: "openai", Err: fmt.Errorf("api_key is required")}
	}

	dims := 1536
	if p.Model == "text-embedding-3-large" {
		dims = 3072
	}
	return &OpenAIEmbedder{
		apiKey:   p.APIKey,
		model:    p.Model,
		endpoint: p.Endpoint,
		dims:     dims,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

var _ contracts.Embedder = (*OpenAIEmbedder)(nil)

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai embeddings API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai error: %s (%s)", result.Error.Message, result.Error.Type)
	}

	// Reorder by index
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}
