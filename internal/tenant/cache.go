package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/matteocacciola/cheshirecat-core/internal/config"
	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ErrTenantNotFound means the settings store has no configuration for the
// tenant. A 404, not a retryable condition.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrTenantNotReady is matched by NotReadyError: the tenant exists but
// its instance could not be built.
var ErrTenantNotReady = errors.New("tenant not ready")

// errBuildSuperseded marks a build whose result was discarded because the
// tenant was invalidated while it ran. Internal; Resolve retries on it.
var errBuildSuperseded = errors.New("instance build superseded by invalidation")

// NotReadyError wraps an instance build failure with its tenant.
type NotReadyError struct {
	TenantID string
	Err      error
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("tenant %s not ready: %v", e.TenantID, e.Err)
}

func (e NotReadyError) Unwrap() error { return e.Err }

func (e NotReadyError) Is(target error) bool { return target == ErrTenantNotReady }

// Cache resolves tenant ids to shared instances. Cold misses build
// at-most-once per key through singleflight; invalidation bumps a
// per-tenant epoch so a build that raced an invalidation discards its
// result instead of publishing a stale instance.
type Cache struct {
	store      settings.Store
	catalog    *plugins.Catalog
	registry   *factory.Registry
	dispatcher *hooks.Dispatcher
	cfg        config.CacheConfig

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*Instance
	epochs  map[string]uint64
	pending map[string]int // in-flight builds per tenant, guards epoch pruning

	done chan struct{}
}

// NewCache wires a cache. Call Start to run the eviction sweeper.
func NewCache(store settings.Store, catalog *plugins.Catalog, registry *factory.Registry, dispatcher *hooks.Dispatcher, cfg config.CacheConfig) *Cache {
	return &Cache{
		store:      store,
		catalog:    catalog,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		entries:    make(map[string]*Instance),
		epochs:     make(map[string]uint64),
		pending:    make(map[string]int),
		done:       make(chan struct{}),
	}
}

// Resolve returns the tenant's instance, building it if needed. The
// instance comes back already pinned: callers pair every Resolve with one
// Release, and an invalidation landing mid-request defers teardown to
// that Release instead of closing components out from under the caller.
// Concurrent cold-miss callers share one build; a failed build is not
// cached. Cancelling ctx abandons the wait without cancelling the shared
// build for the remaining waiters.
func (c *Cache) Resolve(ctx context.Context, tenantID string) (*Instance, error) {
	for {
		c.mu.Lock()
		if inst, ok := c.entries[tenantID]; ok {
			if !inst.stale.Load() && inst.Generation == c.catalog.Generation() {
				// Pin under the lock: Invalidate removes entries under
				// the same lock, so it can never close an instance
				// between this pin and the return.
				inst.Acquire()
				c.mu.Unlock()
				return inst, nil
			}
			// Built against an older catalog: retire and rebuild.
			delete(c.entries, tenantID)
			c.epochs[tenantID]++
			inst.markStale()
		}
		epoch := c.epochs[tenantID]
		c.mu.Unlock()

		ch := c.group.DoChan(tenantID, func() (any, error) {
			c.mu.Lock()
			c.pending[tenantID]++
			c.mu.Unlock()
			defer func() {
				c.mu.Lock()
				if c.pending[tenantID]--; c.pending[tenantID] <= 0 {
					delete(c.pending, tenantID)
				}
				c.mu.Unlock()
			}()

			// Detached from the first caller's ctx so its cancellation
			// cannot fail the build for everyone else.
			inst, err := c.build(context.WithoutCancel(ctx), tenantID)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			if c.epochs[tenantID] != epoch {
				c.mu.Unlock()
				inst.markStale()
				return nil, errBuildSuperseded
			}
			c.entries[tenantID] = inst
			c.mu.Unlock()
			return inst, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, errBuildSuperseded) {
				continue // the invalidated state is fresh; rebuild
			}
			if res.Err != nil {
				return nil, res.Err
			}
			inst := res.Val.(*Instance)
			c.mu.Lock()
			if c.entries[tenantID] == inst && !inst.stale.Load() {
				inst.Acquire()
				c.mu.Unlock()
				return inst, nil
			}
			// Invalidated between publish and pickup; rebuild.
			c.mu.Unlock()
		}
	}
}

// Invalidate drops the tenant's cached instance and marks any in-flight
// build stale so its result is discarded rather than published.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	c.epochs[tenantID]++
	inst, ok := c.entries[tenantID]
	if ok {
		delete(c.entries, tenantID)
	}
	c.mu.Unlock()

	c.group.Forget(tenantID)
	if ok {
		inst.markStale()
		log.Debug().Str("tenant", tenantID).Msg("Tenant instance invalidated")
	}
}

// InvalidateAll drops every cached instance. Used after catalog
// mutations, which affect all tenants.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	victims := make([]*Instance, 0, len(c.entries))
	for id, inst := range c.entries {
		c.epochs[id]++
		victims = append(victims, inst)
		delete(c.entries, id)
	}
	c.mu.Unlock()

	for _, inst := range victims {
		c.group.Forget(inst.TenantID)
		inst.markStale()
	}
	if len(victims) > 0 {
		log.Info().Int("count", len(victims)).Msg("All tenant instances invalidated")
	}
}

// Len reports the number of cached instances.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the idle-TTL and LRU eviction sweeper until ctx ends or
// Close is called.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// sweep evicts instances idle beyond the TTL, then enforces the instance
// cap LRU-first. Pinned instances are never evicted.
func (c *Cache) sweep() {
	now := time.Now()

	c.mu.Lock()
	var victims []*Instance
	for id, inst := range c.entries {
		if inst.pinned() {
			continue
		}
		if now.Sub(inst.idleSince()) > c.cfg.IdleTTL {
			c.epochs[id]++
			delete(c.entries, id)
			victims = append(victims, inst)
		}
	}

	if c.cfg.MaxInstances > 0 && len(c.entries) > c.cfg.MaxInstances {
		candidates := make([]*Instance, 0, len(c.entries))
		for _, inst := range c.entries {
			if !inst.pinned() {
				candidates = append(candidates, inst)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].idleSince().Before(candidates[j].idleSince())
		})
		excess := len(c.entries) - c.cfg.MaxInstances
		for i := 0; i < excess && i < len(candidates); i++ {
			inst := candidates[i]
			c.epochs[inst.TenantID]++
			delete(c.entries, inst.TenantID)
			victims = append(victims, inst)
		}
	}

	// Epochs of departed tenants are only needed while a build is in
	// flight; prune the rest so the map does not grow with every tenant
	// the replica has ever served.
	for id := range c.epochs {
		if _, ok := c.entries[id]; !ok && c.pending[id] == 0 {
			delete(c.epochs, id)
		}
	}
	c.mu.Unlock()

	for _, inst := range victims {
		inst.markStale()
	}
	if len(victims) > 0 {
		log.Debug().Int("evicted", len(victims)).Msg("Tenant cache sweep")
	}
}

// Close stops the sweeper and tears down every cached instance.
func (c *Cache) Close() {
	close(c.done)
	c.InvalidateAll()
}

// build resolves the tenant's configuration into a runtime instance.
func (c *Cache) build(ctx context.Context, tenantID string) (*Instance, error) {
	cfg, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		if settings.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, NotReadyError{TenantID: tenantID, Err: err}
	}

	enabled := make(map[string]bool, len(cfg.EnabledPlugins))
	for _, name := range cfg.EnabledPlugins {
		if c.catalog.Has(name) {
			enabled[name] = true
		} else {
			log.Warn().Str("tenant", tenantID).Str("plugin", name).Msg("Enabled plugin is not installed, skipping")
		}
	}

	include := func(owner string) bool { return owner == plugins.CorePlugin || enabled[owner] }
	payload := hooks.Payload{"tenant_id": tenantID}
	if _, _, err := c.dispatcher.DispatchFastWhere(ctx, hooks.BeforeTenantBootstrap, payload, include); err != nil {
		return nil, NotReadyError{TenantID: tenantID, Err: err}
	}

	inst := &Instance{
		TenantID:   tenantID,
		Config:     *cfg,
		Generation: c.catalog.Generation(),
		dispatcher: c.dispatcher,
		enabled:    enabled,
	}

	defaults := factory.DefaultSelections()
	for _, kind := range models.AllComponentKinds() {
		sel := cfg.Selection(kind, defaults[kind])
		component, err := c.registry.Construct(ctx, tenantID, kind, sel.Name, sel.Params)
		if err != nil {
			inst.markStale()
			return nil, NotReadyError{TenantID: tenantID, Err: err}
		}
		if err := inst.attach(kind, sel.Name, component); err != nil {
			inst.markStale()
			return nil, NotReadyError{TenantID: tenantID, Err: err}
		}
	}

	if _, _, err := inst.Dispatch(ctx, hooks.AfterTenantBootstrap, hooks.Payload{"tenant_id": tenantID}); err != nil {
		inst.markStale()
		return nil, NotReadyError{TenantID: tenantID, Err: err}
	}

	inst.touch()
	log.Info().Str("tenant", tenantID).Int64("version", cfg.Version).Int64("generation", inst.Generation).Msg("Tenant instance built")
	return inst, nil
}

// attach type-checks a constructed component into its slot.
func (i *Instance) attach(kind models.ComponentKind, name string, component any) error {
	mismatch := func() error {
		return fmt.Errorf("%s %q: constructor returned %T", kind, name, component)
	}
	switch kind {
	case models.KindVectorDatabase:
		v, ok := component.(contracts.VectorStore)
		if !ok {
			return mismatch()
		}
		i.VectorStore = v
	case models.KindChunker:
		v, ok := component.(contracts.Chunker)
		if !ok {
			return mismatch()
		}
		i.Chunker = v
	case models.KindEmbedder:
		v, ok := component.(contracts.Embedder)
		if !ok {
			return mismatch()
		}
		i.Embedder = v
	case models.KindLLM:
		v, ok := component.(contracts.LLM)
		if !ok {
			return mismatch()
		}
		i.LLM = v
	case models.KindFileManager:
		v, ok := component.(contracts.FileManager)
		if !ok {
			return mismatch()
		}
		i.Files = v
	case models.KindAuthHandler:
		v, ok := component.(contracts.AuthHandler)
		if !ok {
			return mismatch()
		}
		i.Auth = v
	default:
		return fmt.Errorf("unhandled component kind %q", kind)
	}
	return nil
}
