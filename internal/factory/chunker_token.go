package factory

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type tokenChunkerParams struct {
	Encoding     string `mapstructure:"encoding"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// TokenChunker splits text into fixed-size token windows using a tiktoken
// encoding. Sizes are in tokens, so chunks line up with model context
// budgets regardless of language.
type TokenChunker struct {
	encoding  *tiktoken.Tiktoken
	chunkSize int
	overlap   int
}

// NewTokenChunker is the "token" chunker constructor. The default encoding
// is cl100k_base (GPT-4 family and text-embedding-3-*).
func NewTokenChunker(_ context.Context, _ string, params map[string]any) (any, error) {
	p := tokenChunkerParams{Encoding: "cl100k_base", ChunkSize: 256, ChunkOverlap: 32}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindChunker, Name: "token", Err: err}
	}
	if p.ChunkSize <= 0 {
		return nil, ParamError{Kind: models.KindChunker, Name: "token", Err: fmt.Errorf("chunk_size must be positive, got %d", p.ChunkSize)}
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return nil, ParamError{Kind: models.KindChunker, Name: "token", Err: fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", p.ChunkOverlap)}
	}

	// GetEncoding fails both on an unknown encoding name and on a failed
	// BPE download, so the error stays unwrapped: it is not necessarily a
	// configuration problem, and a retry may succeed.
	enc, err := tiktoken.GetEncoding(p.Encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", p.Encoding, err)
	}
	return &TokenChunker{encoding: enc, chunkSize: p.ChunkSize, overlap: p.ChunkOverlap}, nil
}

var _ contracts.Chunker = (*TokenChunker)(nil)

func (c *TokenChunker) Chunk(text string, metadata map[string]string) []models.Chunk {
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= c.chunkSize {
		return []models.Chunk{{Text: text, Index: 0, Metadata: chunkMeta(metadata, 0)}}
	}

	step := c.chunkSize - c.overlap
	var chunks []models.Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, models.Chunk{
			Text:     c.encoding.Decode(tokens[start:end]),
			Index:    len(chunks),
			Metadata: chunkMeta(metadata, len(chunks)),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
