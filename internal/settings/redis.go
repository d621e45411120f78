package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

const (
	tenantKeyPrefix  = "ccat:tenant:"
	tenantVersionSuf = ":version"
	tenantIndexKey   = "ccat:tenants"
)

// RedisStore implements Store on a shared Redis instance. Every replica
// pointed at the same Redis sees the same tenant configuration; the
// per-tenant version counter is bumped atomically with INCR so writes
// racing across replicas still produce distinct, ordered versions.
type RedisStore struct {
	client *redis.Client
	crypto *Crypto
}

// NewRedisStore connects to Redis and verifies reachability.
// crypto may be nil to store secret-bearing params in the clear.
func NewRedisStore(ctx context.Context, addr, password string, db int, crypto *Crypto) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("settings store: connect redis %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Int("db", db).Msg("Settings store connected")
	return &RedisStore{client: client, crypto: crypto}, nil
}

func (s *RedisStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantConfig, error) {
	raw, err := s.client.Get(ctx, tenantKeyPrefix+tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	if err != nil {
		return nil, fmt.Errorf("settings store: get tenant %s: %w", tenantID, err)
	}

	var cfg models.TenantConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("settings store: decode tenant %s: %w", tenantID, err)
	}
	if s.crypto != nil {
		for kind, sel := range cfg.Selections {
			sel.Params = s.crypto.DecryptParams(sel.Params)
			cfg.Selections[kind] = sel
		}
	}
	return &cfg, nil
}

func (s *RedisStore) PutTenant(ctx context.Context, cfg *models.TenantConfig) (int64, error) {
	version, err := s.client.Incr(ctx, tenantKeyPrefix+cfg.TenantID+tenantVersionSuf).Result()
	if err != nil {
		return 0, fmt.Errorf("settings store: bump version for %s: %w", cfg.TenantID, err)
	}

	stored := cloneConfig(cfg)
	stored.Version = version
	stored.UpdatedAt = time.Now().UTC()
	if s.crypto != nil {
		for kind, sel := range stored.Selections {
			sel.Params = s.crypto.EncryptParams(sel.Params)
			stored.Selections[kind] = sel
		}
	}

	raw, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("settings store: encode tenant %s: %w", cfg.TenantID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tenantKeyPrefix+cfg.TenantID, raw, 0)
	pipe.SAdd(ctx, tenantIndexKey, cfg.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("settings store: put tenant %s: %w", cfg.TenantID, err)
	}

	cfg.Version = version
	cfg.UpdatedAt = stored.UpdatedAt
	return version, nil
}

func (s *RedisStore) DeleteTenant(ctx context.Context, tenantID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tenantKeyPrefix+tenantID, tenantKeyPrefix+tenantID+tenantVersionSuf)
	pipe.SRem(ctx, tenantIndexKey, tenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settings store: delete tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *RedisStore) ListTenants(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, tenantIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("settings store: list tenants: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
