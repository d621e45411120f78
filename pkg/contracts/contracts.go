// Package contracts defines the interfaces of the pluggable components the
// core orchestrates. Concrete drivers (Qdrant, pgvector, OpenAI, ...) live
// in internal/factory; heavy lifting — retrieval ranking, embedding math,
// document parsing — belongs to the implementations behind these
// interfaces, never to the core.
package contracts

import (
	"context"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// VectorStore is a tenant-scoped handle to one vector database collection.
type VectorStore interface {
	// Name returns the implementation name the store was constructed under.
	Name() string

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []models.VectorDoc) error

	// Search returns the topK nearest documents to the query vector.
	Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying client/connection.
	Close() error
}

// Chunker splits raw text into chunks ready for embedding.
type Chunker interface {
	Chunk(text string, metadata map[string]string) []models.Chunk
}

// Embedder turns text into vectors. Dimensions is fixed per instance.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// LLM is a chat-completion language model.
type LLM interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// FileManager stores and retrieves tenant files (knowledge sources,
// attachments). Paths are tenant-relative.
type FileManager interface {
	Save(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// AuthHandler decides whether a credential may perform an operation on a
// resource for the owning tenant.
type AuthHandler interface {
	Authorize(ctx context.Context, credential, resource, operation string) (bool, error)
}

// Notifier forwards internal events to external collaborators (webhooks).
// The core only emits; delivery guarantees are the collaborator's concern.
type Notifier interface {
	Emit(ctx context.Context, event models.NotifyEvent) []models.NotifyResult
}
