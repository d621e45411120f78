package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type qdrantParams struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	UseTLS           bool   `mapstructure:"use_tls"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
	Dimensions       int    `mapstructure:"dimensions"`
}

// QdrantStore is a tenant-scoped handle to one Qdrant collection. The
// collection is created on first construction with cosine distance.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore is the "qdrant" vector-database constructor. Each tenant
// maps to its own collection (prefix + tenant id).
func NewQdrantStore(ctx context.Context, tenantID string, params map[string]any) (any, error) {
	p := qdrantParams{Host: "localhost", Port: 6334, CollectionPrefix: "ccat_", Dimensions: 1536}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "qdrant", Err: err}
	}
	if p.Dimensions <= 0 {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "qdrant", Err: fmt.Errorf("dimensions must be positive, got %d", p.Dimensions)}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   p.Host,
		Port:   p.Port,
		APIKey: p.APIKey,
		UseTLS: p.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, collection: p.CollectionPrefix + tenantID}
	if err := s.ensureCollection(ctx, uint64(p.Dimensions)); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info().Str("tenant", tenantID).Str("collection", s.collection).Msg("Qdrant vector store ready")
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dims uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Another replica may have created it between the check and the create.
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

var _ contracts.VectorStore = (*QdrantStore)(nil)

func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) Upsert(ctx context.Context, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		payload := map[string]*qdrant.Value{
			"content":    qdrant.NewValueString(d.Content),
			"created_at": qdrant.NewValueString(createdAt.Format(time.RFC3339)),
		}
		for k, v := range d.Metadata {
			payload["meta_"+k] = qdrant.NewValueString(v)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(d.Vector...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, point := range resp.Result {
		r := models.SearchResult{Score: point.Score, Metadata: map[string]string{}}
		if point.Id != nil {
			switch id := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				r.ID = id.Uuid
			case *qdrant.PointId_Num:
				r.ID = fmt.Sprintf("%d", id.Num)
			}
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				r.Content = v.GetStringValue()
			case "created_at":
				// not surfaced on search hits
			default:
				r.Metadata[strings.TrimPrefix(k, "meta_")] = v.GetStringValue()
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	resp, err := s.client.GetPointsClient().Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }
