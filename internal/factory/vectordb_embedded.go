package factory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// defaultMaxVectors caps the embedded store. Exceeding it is an error
// nudging the tenant toward qdrant or pgvector.
const defaultMaxVectors = 50_000

type embeddedParams struct {
	MaxVectors int `mapstructure:"max_vectors"`
}

// EmbeddedStore is an in-memory vector store using brute-force cosine
// similarity. One instance per tenant; suitable for development and small
// collections, not for production scale.
type EmbeddedStore struct {
	tenantID   string
	maxVectors int

	mu   sync.RWMutex
	docs map[string]models.VectorDoc
}

// NewEmbeddedStore is the "embedded" vector-database constructor.
func NewEmbeddedStore(_ context.Context, tenantID string, params map[string]any) (any, error) {
	var p embeddedParams
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "embedded", Err: err}
	}
	if p.MaxVectors <= 0 {
		p.MaxVectors = defaultMaxVectors
	}
	log.Debug().Str("tenant", tenantID).Int("max_vectors", p.MaxVectors).Msg("Embedded vector store initialized")
	return &EmbeddedStore{
		tenantID:   tenantID,
		maxVectors: p.MaxVectors,
		docs:       make(map[string]models.VectorDoc),
	}, nil
}

var _ contracts.VectorStore = (*EmbeddedStore)(nil)

func (s *EmbeddedStore) Name() string { return "embedded" }

func (s *EmbeddedStore) Upsert(_ context.Context, docs []models.VectorDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for _, d := range docs {
		if _, exists := s.docs[d.ID]; d.ID == "" || !exists {
			newCount++
		}
	}
	if total := len(s.docs) + newCount; total > s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: %d > %d", total, s.maxVectors)
	}

	now := time.Now()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		s.docs[d.ID] = d
	}
	return nil
}

func (s *EmbeddedStore) Search(_ context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   models.VectorDoc
		score float32
	}
	var candidates []scored
	for _, d := range s.docs {
		if len(d.Vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vector, d.Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if topK > len(candidates) {
		topK = len(candidates)
	}

	results := make([]models.SearchResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = models.SearchResult{
			ID:       candidates[i].doc.ID,
			Content:  candidates[i].doc.Content,
			Score:    candidates[i].score,
			Metadata: candidates[i].doc.Metadata,
		}
	}
	return results, nil
}

func (s *EmbeddedStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

func (s *EmbeddedStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

func (s *EmbeddedStore) Close() error { return nil }

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
