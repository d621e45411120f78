package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type chromemParams struct {
	PersistPath string `mapstructure:"persist_path"`
	Compress    bool   `mapstructure:"compress"`
}

// ChromemStore is an embedded chromem-go vector store. Pure Go, optional
// gzip-compressed file persistence, one collection per tenant. Vectors are
// pre-computed by the embedder so the collection's embedding function must
// never run.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStore is the "chromem" vector-database constructor.
func NewChromemStore(_ context.Context, tenantID string, params map[string]any) (any, error) {
	var p chromemParams
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "chromem", Err: err}
	}

	var db *chromem.DB
	if p.PersistPath != "" {
		if err := os.MkdirAll(p.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("chromem persist dir: %w", err)
		}
		path := filepath.Join(p.PersistPath, "vectors.gob")
		if p.Compress {
			path += ".gz"
		}
		loaded, err := chromem.NewPersistentDB(path, p.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem open %s: %w", path, err)
		}
		db = loaded
		log.Info().Str("tenant", tenantID).Str("path", path).Msg("Chromem vector store opened")
	} else {
		db = chromem.NewDB()
		log.Debug().Str("tenant", tenantID).Msg("Chromem vector store created in memory")
	}

	identity := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection("tenant-"+tenantID, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("chromem collection: %w", err)
	}
	return &ChromemStore{db: db, collection: col}, nil
}

var _ contracts.VectorStore = (*ChromemStore)(nil)

func (s *ChromemStore) Name() string { return "chromem" }

func (s *ChromemStore) Upsert(ctx context.Context, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		meta := make(map[string]string, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["created_at"] = createdAt.Format(time.RFC3339)
		cdocs = append(cdocs, chromem.Document{
			ID:        id,
			Content:   d.Content,
			Metadata:  meta,
			Embedding: d.Vector,
		})
	}
	if err := s.collection.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem upsert: %w", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	// chromem errors when asked for more results than stored documents.
	if count := s.collection.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}
	hits, err := s.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem search: %w", err)
	}
	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			if k == "created_at" {
				continue
			}
			meta[k] = v
		}
		results = append(results, models.SearchResult{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: meta,
		})
	}
	return results, nil
}

func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

func (s *ChromemStore) Count(_ context.Context) (int64, error) {
	return int64(s.collection.Count()), nil
}

func (s *ChromemStore) Close() error { return nil }
