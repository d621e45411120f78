package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matteocacciola/cheshirecat-core/internal/config"
	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		IdleTTL:       time.Minute,
		MaxInstances:  8,
		SweepInterval: time.Minute,
	}
}

type fixture struct {
	store      settings.Store
	catalog    *plugins.Catalog
	registry   *factory.Registry
	dispatcher *hooks.Dispatcher
	cache      *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := settings.NewMemoryStore()
	dispatcher := hooks.NewDispatcher()
	registry := factory.NewRegistry()
	catalog := plugins.NewCatalog(plugins.Options{
		Paths:      []string{t.TempDir()},
		Dispatcher: dispatcher,
		Registry:   registry,
	})
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("catalog load: %v", err)
	}
	cache := NewCache(store, catalog, registry, dispatcher, testCacheConfig())
	t.Cleanup(cache.Close)
	return &fixture{store: store, catalog: catalog, registry: registry, dispatcher: dispatcher, cache: cache}
}

func (f *fixture) putTenant(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.PutTenant(context.Background(), &models.TenantConfig{TenantID: id})
	if err != nil {
		t.Fatalf("put tenant: %v", err)
	}
}

func TestResolveUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.cache.Resolve(context.Background(), "ghost")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

func TestResolveBuildsDefaults(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	inst, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer inst.Release()
	if inst.VectorStore == nil || inst.Chunker == nil || inst.Embedder == nil ||
		inst.LLM == nil || inst.Files == nil || inst.Auth == nil {
		t.Fatal("instance has unresolved components")
	}
	if inst.VectorStore.Name() != "embedded" {
		t.Errorf("default vector store = %q, want embedded", inst.VectorStore.Name())
	}

	again, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	defer again.Release()
	if again != inst {
		t.Error("second resolve built a new instance")
	}
}

func TestResolveSharesOneBuild(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	var builds int
	gate := make(chan struct{})
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeTenantBootstrap,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			builds++
			<-gate
			return hooks.Continue(p), nil
		},
	})

	const callers = 16
	results := make(chan *Instance, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := f.cache.Resolve(context.Background(), "acme")
			if err != nil {
				errs <- err
				return
			}
			results <- inst
		}()
	}

	time.Sleep(50 * time.Millisecond) // let callers pile onto the flight
	close(gate)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Resolve() error = %v", err)
	}
	if builds != 1 {
		t.Fatalf("builds = %d, want 1", builds)
	}
	var first *Instance
	for inst := range results {
		if first == nil {
			first = inst
		} else if inst != first {
			t.Fatal("concurrent callers saw different instances")
		}
		inst.Release()
	}
}

func TestBuildFailureNotCached(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	var fail = true
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeTenantBootstrap,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			if fail {
				return hooks.Outcome{}, fmt.Errorf("transient backend outage")
			}
			return hooks.Continue(p), nil
		},
	})

	_, err := f.cache.Resolve(context.Background(), "acme")
	if !errors.Is(err, ErrTenantNotReady) {
		t.Fatalf("err = %v, want ErrTenantNotReady", err)
	}
	var notReady NotReadyError
	if !errors.As(err, &notReady) || notReady.TenantID != "acme" {
		t.Fatalf("error does not carry the tenant: %v", err)
	}

	fail = false
	inst, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	inst.Release()
}

func TestInvalidateDiscardsInFlightBuild(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	building := make(chan struct{})
	gate := make(chan struct{})
	var builds int
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeTenantBootstrap,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			builds++
			if builds == 1 {
				close(building)
				<-gate
			}
			return hooks.Continue(p), nil
		},
	})

	done := make(chan *Instance, 1)
	go func() {
		inst, err := f.cache.Resolve(context.Background(), "acme")
		if err != nil {
			t.Error(err)
		}
		done <- inst
	}()

	<-building
	f.cache.Invalidate("acme") // race: build is in flight
	close(gate)

	inst := <-done
	if inst == nil {
		t.Fatal("resolve returned nil instance")
	}
	defer inst.Release()
	// The first build was discarded; the caller got a rebuilt instance.
	if builds != 2 {
		t.Errorf("builds = %d, want 2 (stale build discarded)", builds)
	}
}

func TestInvalidateDropsCachedInstance(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	first, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	first.Release()
	f.cache.Invalidate("acme")

	second, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Release()
	if second == first {
		t.Error("invalidated instance was served again")
	}
}

func TestPinnedInstanceSurvivesSweep(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")
	f.cache.cfg.IdleTTL = time.Nanosecond

	// Resolve pins; the pin stands in for a request still in flight.
	inst, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	f.cache.sweep()
	if f.cache.Len() != 1 {
		t.Fatal("pinned instance was evicted")
	}

	inst.Release()
	time.Sleep(time.Millisecond)
	f.cache.sweep()
	if f.cache.Len() != 0 {
		t.Error("idle unpinned instance not evicted")
	}
}

func TestLRUEvictionOverCap(t *testing.T) {
	f := newFixture(t)
	f.cache.cfg.MaxInstances = 2
	for _, id := range []string{"t1", "t2", "t3"} {
		f.putTenant(t, id)
		inst, err := f.cache.Resolve(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		inst.Release()
		time.Sleep(2 * time.Millisecond) // distinct last-access times
	}

	f.cache.sweep()
	if got := f.cache.Len(); got != 2 {
		t.Fatalf("Len() = %d after sweep, want 2", got)
	}
	f.cache.mu.Lock()
	_, oldest := f.cache.entries["t1"]
	f.cache.mu.Unlock()
	if oldest {
		t.Error("least recently used instance survived the cap")
	}
}

func TestCatalogGenerationChangeRebuilds(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	first, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	first.Release()

	// A catalog reload bumps the generation; the cached instance is stale.
	if err := f.catalog.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Release()
	if second == first {
		t.Error("instance from an older catalog generation was served")
	}
	if second.Generation != f.catalog.Generation() {
		t.Errorf("instance generation = %d, catalog = %d", second.Generation, f.catalog.Generation())
	}
}

func TestDisabledPluginHooksExcluded(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "muted")
	if _, err := f.store.PutTenant(context.Background(), &models.TenantConfig{
		TenantID:       "loud",
		EnabledPlugins: []string{"shouter"},
	}); err != nil {
		t.Fatal(err)
	}

	// Simulate a plugin-owned hook. The plugin is not installed, so even
	// tenants that enable it must not run the handler.
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeReplySent,
		Owner: "shouter",
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			p["shouted"] = true
			return hooks.Continue(p), nil
		},
	})

	for _, id := range []string{"muted", "loud"} {
		inst, err := f.cache.Resolve(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		out, _, err := inst.Dispatch(context.Background(), hooks.BeforeReplySent, hooks.Payload{})
		inst.Release()
		if err != nil {
			t.Fatal(err)
		}
		if out["shouted"] == true {
			t.Errorf("tenant %s ran a hook of a plugin that is not installed", id)
		}
	}
}

// closeRecorder observes when the instance teardown closes the vector
// store.
type closeRecorder struct {
	contracts.VectorStore
	closed atomic.Bool
}

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return c.VectorStore.Close()
}

func TestResolveReturnsPinnedInstance(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	inst, err := f.cache.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if !inst.pinned() {
		t.Fatal("resolved instance is not pinned")
	}

	rec := &closeRecorder{VectorStore: inst.VectorStore}
	inst.VectorStore = rec

	// An invalidation landing while the caller still holds the instance
	// must not tear it down out from under the request.
	f.cache.Invalidate("acme")
	if rec.closed.Load() {
		t.Fatal("invalidation closed an instance a caller still held")
	}

	inst.Release()
	if !rec.closed.Load() {
		t.Error("releasing the last pin did not close the stale instance")
	}
}

func TestCancelledWaiterDoesNotAbortSharedBuild(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, "acme")

	var builds int
	started := make(chan struct{})
	gate := make(chan struct{})
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeTenantBootstrap,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			builds++
			if builds == 1 {
				close(started)
			}
			<-gate
			return hooks.Continue(p), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelled := make(chan error, 1)
	go func() {
		_, err := f.cache.Resolve(ctx, "acme")
		cancelled <- err
	}()

	survivor := make(chan *Instance, 1)
	survivorErr := make(chan error, 1)
	go func() {
		inst, err := f.cache.Resolve(context.Background(), "acme")
		if err != nil {
			survivorErr <- err
			return
		}
		survivor <- inst
	}()

	<-started
	time.Sleep(50 * time.Millisecond) // let both waiters join the flight
	cancel()

	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter err = %v, want context.Canceled", err)
	}

	close(gate)
	select {
	case err := <-survivorErr:
		t.Fatalf("surviving waiter failed: %v", err)
	case inst := <-survivor:
		if inst == nil {
			t.Fatal("surviving waiter got nil instance")
		}
		inst.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("surviving waiter never completed")
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1 (cancellation must not abort the shared build)", builds)
	}
}

func TestSweepPrunesEpochsOfDepartedTenants(t *testing.T) {
	f := newFixture(t)
	f.cache.cfg.IdleTTL = time.Nanosecond

	f.putTenant(t, "gone")
	inst, err := f.cache.Resolve(context.Background(), "gone")
	if err != nil {
		t.Fatal(err)
	}
	inst.Release()
	f.cache.Invalidate("gone")

	// A tenant with a build in flight keeps its epoch so the build's
	// superseded check stays meaningful.
	f.putTenant(t, "busy")
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeTenantBootstrap,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			if p["tenant_id"] == "busy" {
				once.Do(func() { close(started) })
				<-gate
			}
			return hooks.Continue(p), nil
		},
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if inst, err := f.cache.Resolve(context.Background(), "busy"); err == nil {
			inst.Release()
		}
	}()
	<-started
	f.cache.Invalidate("busy")

	f.cache.sweep()

	f.cache.mu.Lock()
	_, goneKept := f.cache.epochs["gone"]
	_, busyKept := f.cache.epochs["busy"]
	f.cache.mu.Unlock()
	if goneKept {
		t.Error("epoch of a departed tenant survived the sweep")
	}
	if !busyKept {
		t.Error("epoch of a tenant with an in-flight build was pruned")
	}

	close(gate)
	<-done
}
