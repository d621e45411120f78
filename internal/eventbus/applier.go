package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// maxSeenKeys bounds the idempotency dedup set. Old keys roll off in
// arrival order once the bound is hit.
const maxSeenKeys = 4096

// TenantInvalidator is the slice of the tenant cache the applier needs.
type TenantInvalidator interface {
	Invalidate(tenantID string)
	InvalidateAll()
}

// CatalogReloader rescans the plugin directories.
type CatalogReloader interface {
	Load(ctx context.Context) error
}

// Applier turns synchronization messages into local state changes. It is
// idempotent: replayed idempotency keys and versions older than the last
// applied one per tenant are no-ops, so at-least-once delivery and the
// originator's own echo are both safe.
type Applier struct {
	cache   TenantInvalidator
	catalog CatalogReloader
	replica string // set at wiring, before any Apply runs

	mu          sync.Mutex
	seen        map[string]struct{}
	seenOrder   []string
	lastVersion map[string]int64
}

// NewApplier wires an applier over the tenant cache and plugin catalog.
func NewApplier(cache TenantInvalidator, catalog CatalogReloader) *Applier {
	return &Applier{
		cache:       cache,
		catalog:     catalog,
		seen:        make(map[string]struct{}),
		lastVersion: make(map[string]int64),
	}
}

// Apply handles one message. Safe for concurrent use.
func (a *Applier) Apply(ctx context.Context, msg models.SyncMessage) {
	if !a.admit(msg) {
		log.Debug().Str("key", msg.IdempotencyKey).Str("kind", string(msg.Kind)).Msg("Duplicate or stale sync message dropped")
		return
	}

	log.Info().
		Str("kind", string(msg.Kind)).
		Str("tenant", msg.TenantID).
		Str("plugin", msg.Plugin).
		Str("source", msg.SourceReplica).
		Msg("Applying sync message")

	switch msg.Kind {
	case models.SyncSettingsChanged, models.SyncTenantInvalidate:
		if msg.Global() {
			a.cache.InvalidateAll()
		} else {
			a.cache.Invalidate(msg.TenantID)
		}
	case models.SyncPluginInstalled, models.SyncPluginUninstalled:
		if a.replica != "" && msg.SourceReplica == a.replica {
			// The originating replica rescanned inside the catalog
			// mutation; a second reload here would only bump the
			// generation again and rebuild every instance twice.
			return
		}
		// The catalog reload invalidates all tenants itself.
		if err := a.catalog.Load(ctx); err != nil {
			log.Error().Err(err).Str("plugin", msg.Plugin).Msg("Catalog rescan after sync message failed")
		}
	default:
		log.Warn().Str("kind", string(msg.Kind)).Msg("Unknown sync message kind ignored")
	}
}

// admit records the message and reports whether it should be applied.
// Rejects replayed idempotency keys and tenant-scoped messages older than
// the last applied version for that tenant.
func (a *Applier) admit(msg models.SyncMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.IdempotencyKey != "" {
		if _, dup := a.seen[msg.IdempotencyKey]; dup {
			return false
		}
		a.seen[msg.IdempotencyKey] = struct{}{}
		a.seenOrder = append(a.seenOrder, msg.IdempotencyKey)
		if len(a.seenOrder) > maxSeenKeys {
			evict := a.seenOrder[0]
			a.seenOrder = a.seenOrder[1:]
			delete(a.seen, evict)
		}
	}

	if msg.TenantID != "" && msg.Version > 0 {
		if msg.Version < a.lastVersion[msg.TenantID] {
			return false
		}
		a.lastVersion[msg.TenantID] = msg.Version
	}
	return true
}
