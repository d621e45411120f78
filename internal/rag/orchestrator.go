// Package rag composes a tenant's chunker, embedder and vector store into
// ingest and query flows. Pure orchestration: splitting strategy, embedding
// math and similarity search all live behind the component contracts.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/tenant"
	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// embedBatchSize caps texts per Embed call.
const embedBatchSize = 256

// Document is one raw knowledge source to ingest.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed_ms"`
}

// Handles are a tenant's retrieval components, resolved together.
type Handles struct {
	Chunker  contracts.Chunker
	Embedder contracts.Embedder
	Store    contracts.VectorStore
}

// Orchestrator resolves tenants and runs their ingest and query flows.
type Orchestrator struct {
	cache    *tenant.Cache
	notifier contracts.Notifier
}

// NewOrchestrator wires the orchestrator. notifier may be nil.
func NewOrchestrator(cache *tenant.Cache, notifier contracts.Notifier) *Orchestrator {
	return &Orchestrator{cache: cache, notifier: notifier}
}

// Pipeline resolves the tenant's retrieval components. release unpins the
// underlying instance; call it when done with the handles.
func (o *Orchestrator) Pipeline(ctx context.Context, tenantID string) (Handles, func(), error) {
	inst, err := o.cache.Resolve(ctx, tenantID)
	if err != nil {
		return Handles{}, nil, err
	}
	handles := Handles{Chunker: inst.Chunker, Embedder: inst.Embedder, Store: inst.VectorStore}
	return handles, inst.Release, nil
}

// Ingest chunks, embeds and stores documents, then emits a
// knowledge_source_loaded event carrying the outcome. Documents a
// before_document_stored hook fast-replies on are skipped.
func (o *Orchestrator) Ingest(ctx context.Context, tenantID, source string, docs []Document) (*IngestResult, error) {
	start := time.Now()

	inst, err := o.cache.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer inst.Release()

	var chunks []models.Chunk
	skipped := 0
	for _, doc := range docs {
		payload := hooks.Payload{
			"tenant_id": tenantID,
			"source":    source,
			"content":   doc.Content,
		}
		payload, fast, err := inst.Dispatch(ctx, hooks.BeforeDocumentStored, payload)
		if err != nil {
			o.emitLoaded(ctx, tenantID, source, false)
			return nil, err
		}
		if fast {
			skipped++
			continue
		}
		content, _ := payload["content"].(string)
		if content == "" {
			content = doc.Content
		}

		meta := map[string]string{"source": source}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		if doc.ID != "" {
			meta["document_id"] = doc.ID
		}
		chunks = append(chunks, inst.Chunker.Chunk(content, meta)...)
	}

	if err := o.storeChunks(ctx, inst, chunks); err != nil {
		o.emitLoaded(ctx, tenantID, source, false)
		return nil, err
	}

	o.emitLoaded(ctx, tenantID, source, true)
	result := &IngestResult{
		Documents: len(docs),
		Chunks:    len(chunks),
		Skipped:   skipped,
		Elapsed:   time.Since(start),
	}
	log.Info().
		Str("tenant", tenantID).
		Str("source", source).
		Int("documents", result.Documents).
		Int("chunks", result.Chunks).
		Msg("Knowledge source ingested")
	return result, nil
}

func (o *Orchestrator) storeChunks(ctx context.Context, inst *tenant.Instance, chunks []models.Chunk) error {
	for i := 0; i < len(chunks); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vectors, err := inst.Embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		vdocs := make([]models.VectorDoc, len(batch))
		for j, c := range batch {
			vdocs[j] = models.VectorDoc{
				ID:        uuid.NewString(),
				Content:   c.Text,
				Vector:    vectors[j],
				Metadata:  c.Metadata,
				CreatedAt: time.Now(),
			}
		}
		if err := inst.VectorStore.Upsert(ctx, vdocs); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
	}
	return nil
}

// Query embeds the query text and searches the tenant's vector store.
func (o *Orchestrator) Query(ctx context.Context, tenantID, query string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	inst, err := o.cache.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer inst.Release()

	vectors, err := inst.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	return inst.VectorStore.Search(ctx, vectors[0], topK)
}

func (o *Orchestrator) emitLoaded(ctx context.Context, tenantID, source string, success bool) {
	if o.notifier == nil {
		return
	}
	o.notifier.Emit(ctx, models.NotifyEvent{
		Type:      models.EventKnowledgeSourceLoaded,
		TenantID:  tenantID,
		Source:    source,
		Success:   success,
		Timestamp: time.Now(),
	})
}
