package settings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// MemoryStore implements Store with in-memory maps. Used in tests and in
// single-replica deployments without Redis. State does not survive
// restarts and is not shared across replicas.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.TenantConfig
}

// NewMemoryStore creates an empty in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*models.TenantConfig)}
}

func (s *MemoryStore) GetTenant(_ context.Context, tenantID string) (*models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.tenants[tenantID]
	if !ok {
		return nil, &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	cp := cloneConfig(cfg)
	return &cp, nil
}

func (s *MemoryStore) PutTenant(_ context.Context, cfg *models.TenantConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(1)
	if prev, ok := s.tenants[cfg.TenantID]; ok {
		version = prev.Version + 1
	}

	cp := cloneConfig(cfg)
	cp.Version = version
	cp.UpdatedAt = time.Now().UTC()
	s.tenants[cfg.TenantID] = &cp

	cfg.Version = version
	cfg.UpdatedAt = cp.UpdatedAt
	return version, nil
}

func (s *MemoryStore) DeleteTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
	return nil
}

func (s *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// cloneConfig deep-copies a TenantConfig so callers never share maps with
// the store's internal state.
func cloneConfig(cfg *models.TenantConfig) models.TenantConfig {
	cp := *cfg
	cp.Selections = make(map[models.ComponentKind]models.FactorySelection, len(cfg.Selections))
	for k, sel := range cfg.Selections {
		params := make(map[string]any, len(sel.Params))
		for pk, pv := range sel.Params {
			params[pk] = pv
		}
		cp.Selections[k] = models.FactorySelection{Name: sel.Name, Params: params}
	}
	cp.EnabledPlugins = append([]string(nil), cfg.EnabledPlugins...)
	return cp
}
