// Package hooks implements the ordered hook dispatch pipeline. Core code
// and plugins register handlers on named hooks; dispatch threads a payload
// through every handler in ascending priority order, unless one of them
// short-circuits with a fast reply.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Well-known hook names invoked by the core. Plugins may declare any
// other name; dispatching an unknown name is a no-op returning the
// payload unchanged.
const (
	BeforeTenantBootstrap = "before_tenant_bootstrap"
	AfterTenantBootstrap  = "after_tenant_bootstrap"
	BeforeMessageRead     = "before_message_read"
	AgentFastReply        = "agent_fast_reply"
	BeforeReplySent       = "before_reply_sent"
	BeforeDocumentStored  = "before_document_stored"
)

// CoreOwner marks handlers registered by the core rather than a plugin.
const CoreOwner = "core"

// Payload is the value threaded through a hook chain. Handlers receive the
// previous handler's output and return their own.
type Payload map[string]any

// Outcome is a handler's result: the (possibly replaced) payload and
// whether the chain should stop here.
type Outcome struct {
	Payload Payload
	fast    bool
}

// Continue passes p to the next handler in the chain.
func Continue(p Payload) Outcome { return Outcome{Payload: p} }

// FastReply stops the chain; p becomes the dispatch result. This is the
// only short-circuit mechanism.
func FastReply(p Payload) Outcome { return Outcome{Payload: p, fast: true} }

// Fast reports whether the outcome short-circuits the chain.
func (o Outcome) Fast() bool { return o.fast }

// Handler transforms a hook payload. Returning an error aborts the whole
// dispatch; it is never swallowed.
type Handler func(ctx context.Context, p Payload) (Outcome, error)

// Registration binds a handler to a hook with its priority and owner.
type Registration struct {
	Hook     string
	Owner    string
	Priority int
	Fn       Handler
}

type boundHandler struct {
	Registration
	seq int // registration order, breaks priority ties deterministically
}

// Dispatcher holds the hook chains. Chains are copy-on-write: Dispatch
// snapshots a chain under a read lock and iterates the snapshot, so a
// concurrent UnregisterOwner is atomic — an in-flight dispatch sees the
// handler set as of its start, never a partial removal.
type Dispatcher struct {
	mu     sync.RWMutex
	chains map[string][]boundHandler
	seq    int
}

// NewDispatcher creates an empty hook dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{chains: make(map[string][]boundHandler)}
}

// Register adds a handler to the named hook. Lower priorities run first;
// equal priorities run in registration order, which the plugin catalog
// drives from the dependency-resolved load order.
func (d *Dispatcher) Register(reg Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	chain := append([]boundHandler(nil), d.chains[reg.Hook]...)
	chain = append(chain, boundHandler{Registration: reg, seq: d.seq})
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].Priority != chain[j].Priority {
			return chain[i].Priority < chain[j].Priority
		}
		return chain[i].seq < chain[j].seq
	})
	d.chains[reg.Hook] = chain
}

// RegisterAll registers every entry in order.
func (d *Dispatcher) RegisterAll(regs []Registration) {
	for _, reg := range regs {
		d.Register(reg)
	}
}

// UnregisterOwner atomically removes every handler owned by owner
// (plugin uninstall or tenant-level disable).
func (d *Dispatcher) UnregisterOwner(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for hook, chain := range d.chains {
		kept := make([]boundHandler, 0, len(chain))
		for _, h := range chain {
			if h.Owner != owner {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(d.chains, hook)
			continue
		}
		d.chains[hook] = kept
	}
}

// HandlerCount returns the number of handlers bound to the named hook.
func (d *Dispatcher) HandlerCount(hook string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chains[hook])
}

// Dispatch runs the named hook's chain over payload. Each handler receives
// the previous handler's output. A FastReply outcome stops the chain and
// becomes the result. A handler error aborts the dispatch, wrapped with
// the hook name and owning plugin.
func (d *Dispatcher) Dispatch(ctx context.Context, hook string, payload Payload) (Payload, error) {
	payload, _, err := d.DispatchFast(ctx, hook, payload)
	return payload, err
}

// DispatchFast is Dispatch plus a flag reporting whether a FastReply
// outcome ended the chain early.
func (d *Dispatcher) DispatchFast(ctx context.Context, hook string, payload Payload) (Payload, bool, error) {
	return d.DispatchFastWhere(ctx, hook, payload, nil)
}

// DispatchFastWhere runs the chain skipping handlers whose owner the
// include filter rejects. A nil filter includes everyone. Tenants use this
// to run only the hooks of their enabled plugins.
func (d *Dispatcher) DispatchFastWhere(ctx context.Context, hook string, payload Payload, include func(owner string) bool) (Payload, bool, error) {
	d.mu.RLock()
	chain := d.chains[hook]
	d.mu.RUnlock()

	for _, h := range chain {
		if include != nil && !include(h.Owner) {
			continue
		}
		out, err := h.Fn(ctx, payload)
		if err != nil {
			return nil, false, fmt.Errorf("hook %s (owner %s): %w", hook, h.Owner, err)
		}
		payload = out.Payload
		if out.Fast() {
			log.Debug().Str("hook", hook).Str("owner", h.Owner).Msg("Hook chain short-circuited by fast reply")
			return payload, true, nil
		}
	}
	return payload, false, nil
}
