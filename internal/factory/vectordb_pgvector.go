package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type pgvectorParams struct {
	URL        string `mapstructure:"url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// PgvectorStore stores vectors in PostgreSQL with the pgvector extension.
// All tenants share one table; rows are scoped by tenant id. The table and
// its indexes are created on first construction.
type PgvectorStore struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPgvectorStore is the "pgvector" vector-database constructor. Callers
// must provide a PostgreSQL instance with pgvector installed.
func NewPgvectorStore(ctx context.Context, tenantID string, params map[string]any) (any, error) {
	p := pgvectorParams{Dimensions: 1536}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "pgvector", Err: err}
	}
	if p.URL == "" {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "pgvector", Err: fmt.Errorf("url is required")}
	}
	if p.Dimensions <= 0 {
		return nil, ParamError{Kind: models.KindVectorDatabase, Name: "pgvector", Err: fmt.Errorf("dimensions must be positive, got %d", p.Dimensions)}
	}

	pool, err := pgxpool.New(ctx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, tenantID: tenantID}
	if err := s.migrate(ctx, p.Dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	log.Info().Str("tenant", tenantID).Int("dims", p.Dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context, dims int) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS ccat_vectors (
			id         TEXT NOT NULL,
			tenant     TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			vector     vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant, id)
		);

		CREATE INDEX IF NOT EXISTS idx_ccat_vectors_tenant ON ccat_vectors (tenant);
	`, dims)
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

var _ contracts.VectorStore = (*PgvectorStore)(nil)

func (s *PgvectorStore) Name() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO ccat_vectors (id, tenant, content, metadata, vector, created_at) VALUES `)

	args := make([]any, 0, len(docs)*6)
	for i, d := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*6 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4, base+5))
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args, id, s.tenantID, d.Content, metadata, vectorLiteral(d.Vector), createdAt)
	}

	sb.WriteString(` ON CONFLICT (tenant, id) DO UPDATE SET
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		vector = EXCLUDED.vector`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("pgvector upsert: %w", err)
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	query := `SELECT id, content, metadata, 1 - (vector <=> $1) AS score
		FROM ccat_vectors
		WHERE tenant = $2
		ORDER BY vector <=> $1
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, vectorLiteral(vector), s.tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		var score float64
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM ccat_vectors WHERE tenant = $1 AND id = ANY($2)", s.tenantID, ids)
	return err
}

func (s *PgvectorStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ccat_vectors WHERE tenant = $1", s.tenantID).Scan(&count)
	return count, err
}

func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders a vector in pgvector's text format: [1,2,3]
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
