// Package tenant owns the per-tenant runtime instances and the cache that
// builds, shares and evicts them. An instance is the fully resolved form
// of a tenant's configuration: constructed components plus the hook chain
// restricted to the tenant's enabled plugins.
package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Instance is one tenant's resolved runtime. Built by the cache, shared
// by every request of the tenant, immutable once published. Configuration
// changes never mutate an instance; they invalidate it and the next
// request builds a fresh one.
type Instance struct {
	TenantID   string
	Config     models.TenantConfig
	Generation int64 // catalog generation the instance was built against

	VectorStore contracts.VectorStore
	Chunker     contracts.Chunker
	Embedder    contracts.Embedder
	LLM         contracts.LLM
	Files       contracts.FileManager
	Auth        contracts.AuthHandler

	dispatcher *hooks.Dispatcher
	enabled    map[string]bool

	refs       atomic.Int64
	lastAccess atomic.Int64
	stale      atomic.Bool
	closeOnce  sync.Once
}

// Dispatch runs a hook chain restricted to the core plugin and the
// tenant's enabled plugins. The returned flag reports a fast-reply
// short-circuit.
func (i *Instance) Dispatch(ctx context.Context, hook string, payload hooks.Payload) (hooks.Payload, bool, error) {
	return i.dispatcher.DispatchFastWhere(ctx, hook, payload, i.ownerEnabled)
}

func (i *Instance) ownerEnabled(owner string) bool {
	return owner == plugins.CorePlugin || i.enabled[owner]
}

// Acquire pins the instance against eviction for the duration of a
// request. Pair with Release.
func (i *Instance) Acquire() {
	i.refs.Add(1)
	i.touch()
}

// Release drops one pin. A stale instance closes once the last pin is
// gone.
func (i *Instance) Release() {
	if i.refs.Add(-1) == 0 && i.stale.Load() {
		i.close()
	}
}

func (i *Instance) touch() { i.lastAccess.Store(time.Now().UnixNano()) }

func (i *Instance) idleSince() time.Time { return time.Unix(0, i.lastAccess.Load()) }

func (i *Instance) pinned() bool { return i.refs.Load() > 0 }

// markStale flags the instance for teardown. If nothing holds a pin it
// closes immediately, otherwise the last Release does.
func (i *Instance) markStale() {
	i.stale.Store(true)
	if !i.pinned() {
		i.close()
	}
}

func (i *Instance) close() {
	i.closeOnce.Do(func() {
		if i.VectorStore != nil {
			if err := i.VectorStore.Close(); err != nil {
				log.Warn().Str("tenant", i.TenantID).Err(err).Msg("Vector store close failed")
			}
		}
	})
}
