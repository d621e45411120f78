package factory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
)

func buildChunker(t *testing.T, name string, params map[string]any) contracts.Chunker {
	t.Helper()
	r := newTestRegistry(t)
	v, err := r.Construct(context.Background(), "acme", "chunker", name, params)
	if err != nil {
		t.Fatalf("Construct(chunker, %s) error = %v", name, err)
	}
	c, ok := v.(contracts.Chunker)
	if !ok {
		t.Fatalf("constructor returned %T, want contracts.Chunker", v)
	}
	return c
}

func TestRecursiveChunkerShortTextSingleChunk(t *testing.T) {
	c := buildChunker(t, "recursive", map[string]any{"chunk_size": 100})

	chunks := c.Chunk("short text", map[string]string{"source": "note.txt"})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "short text" {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
	if chunks[0].Metadata["source"] != "note.txt" {
		t.Error("parent metadata not inherited")
	}
	if chunks[0].Metadata["chunk_index"] != "0" {
		t.Errorf("chunk_index = %q, want 0", chunks[0].Metadata["chunk_index"])
	}
}

func TestRecursiveChunkerSplitsOnParagraphs(t *testing.T) {
	c := buildChunker(t, "recursive", map[string]any{"chunk_size": 40, "chunk_overlap": 0})

	text := strings.Join([]string{
		"First paragraph with some words.",
		"Second paragraph, also with words.",
		"Third one closes the document.",
	}, "\n\n")

	chunks := c.Chunk(text, nil)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestRecursiveChunkerOverlapCarriesTail(t *testing.T) {
	c := buildChunker(t, "recursive", map[string]any{"chunk_size": 30, "chunk_overlap": 10, "separator": " "})

	text := strings.Repeat("alpha beta gamma delta ", 5)
	chunks := c.Chunk(strings.TrimSpace(text), nil)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	// Each chunk after the first should start with words seen at the tail
	// of its predecessor.
	for i := 1; i < len(chunks); i++ {
		firstWord := strings.SplitN(chunks[i].Text, " ", 2)[0]
		if !strings.Contains(chunks[i-1].Text, firstWord) {
			t.Errorf("chunk %d start %q not present in predecessor %q", i, firstWord, chunks[i-1].Text)
		}
	}
}

func TestRecursiveChunkerPassthrough(t *testing.T) {
	c := buildChunker(t, "recursive", map[string]any{"chunk_size": 10, "passthrough": true})

	long := strings.Repeat("word ", 100)
	chunks := c.Chunk(long, nil)
	if len(chunks) != 1 {
		t.Fatalf("passthrough got %d chunks, want 1", len(chunks))
	}
}

func TestTokenChunkerWindows(t *testing.T) {
	c := buildChunker(t, "token", map[string]any{"chunk_size": 16, "chunk_overlap": 4})

	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10)
	chunks := c.Chunk(text, map[string]string{"source": "fox.txt"})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Metadata["source"] != "fox.txt" {
			t.Errorf("chunk %d missing inherited metadata", i)
		}
	}
	// Reassembling without overlap must recover the original text.
	if got := chunks[0].Text; !strings.HasPrefix(text, got) {
		t.Errorf("first chunk %q is not a prefix of the input", got)
	}
}

func TestTokenChunkerShortTextSingleChunk(t *testing.T) {
	c := buildChunker(t, "token", map[string]any{"chunk_size": 128})

	chunks := c.Chunk("tiny", nil)
	if len(chunks) != 1 || chunks[0].Text != "tiny" {
		t.Fatalf("got %+v, want single chunk with original text", chunks)
	}
}

func TestTokenChunkerEncodingFailureIsNotParamError(t *testing.T) {
	r := newTestRegistry(t)

	// An encoding load can also fail transiently (the BPE ranks are
	// fetched on first use), so the failure must not be reported as a
	// parameter problem.
	_, err := r.Construct(context.Background(), "acme", "chunker", "token", map[string]any{"encoding": "no_such_base"})
	if err == nil {
		t.Fatal("Construct with an unloadable encoding succeeded")
	}
	var paramErr ParamError
	if errors.As(err, &paramErr) {
		t.Fatalf("encoding load failure classified as ParamError: %v", err)
	}
}
