package factory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type recursiveChunkerParams struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Separator    string `mapstructure:"separator"`
	Passthrough  bool   `mapstructure:"passthrough"`
}

// RecursiveChunker splits text by trying separators in priority order
// (paragraph, line, sentence, word, character) and merging segments into
// overlapping chunks of the target size. Sizes are in runes.
type RecursiveChunker struct {
	chunkSize   int
	overlap     int
	separators  []string
	passthrough bool
}

// NewRecursiveChunker is the "recursive" chunker constructor.
func NewRecursiveChunker(_ context.Context, _ string, params map[string]any) (any, error) {
	p := recursiveChunkerParams{ChunkSize: 512, ChunkOverlap: 50}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindChunker, Name: "recursive", Err: err}
	}
	if p.ChunkSize <= 0 {
		return nil, ParamError{Kind: models.KindChunker, Name: "recursive", Err: fmt.Errorf("chunk_size must be positive, got %d", p.ChunkSize)}
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return nil, ParamError{Kind: models.KindChunker, Name: "recursive", Err: fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", p.ChunkOverlap)}
	}

	separators := []string{"\n\n", "\n", ". ", " ", ""}
	if p.Separator != "" {
		separators = append([]string{p.Separator}, separators...)
	}
	return &RecursiveChunker{
		chunkSize:   p.ChunkSize,
		overlap:     p.ChunkOverlap,
		separators:  separators,
		passthrough: p.Passthrough,
	}, nil
}

var _ contracts.Chunker = (*RecursiveChunker)(nil)

func (c *RecursiveChunker) Chunk(text string, metadata map[string]string) []models.Chunk {
	if c.passthrough || utf8.RuneCountInString(text) <= c.chunkSize {
		return []models.Chunk{{Text: text, Index: 0, Metadata: chunkMeta(metadata, 0)}}
	}

	pieces := c.split(text)
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{Text: piece, Index: i, Metadata: chunkMeta(metadata, i)}
	}
	return chunks
}

func (c *RecursiveChunker) split(text string) []string {
	// First separator that actually divides the text wins.
	var segments []string
	var sep string
	for _, s := range c.separators {
		if s == "" {
			segments = splitByRunes(text, c.chunkSize)
			break
		}
		if parts := strings.Split(text, s); len(parts) > 1 {
			segments, sep = parts, s
			break
		}
	}
	if len(segments) == 0 {
		return []string{text}
	}

	var out []string
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += sep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > c.chunkSize && current.Len() > 0 {
			out = append(out, current.String())
			tail := overlapTail(current.String(), c.overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(sep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(sep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func splitByRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// overlapTail returns the last n runes of s, snapped forward to the next
// word boundary so overlaps do not begin mid-word.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	tail := runes[len(runes)-n:]
	for i, r := range tail {
		if r == ' ' || r == '\n' {
			return strings.TrimLeft(string(tail[i:]), " \n")
		}
	}
	return string(tail)
}

func chunkMeta(parent map[string]string, index int) map[string]string {
	meta := make(map[string]string, len(parent)+1)
	for k, v := range parent {
		meta[k] = v
	}
	meta["chunk_index"] = strconv.Itoa(index)
	return meta
}
