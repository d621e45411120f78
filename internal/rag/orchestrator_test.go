package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matteocacciola/cheshirecat-core/internal/config"
	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/internal/tenant"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type recordingNotifier struct {
	events []models.NotifyEvent
}

func (n *recordingNotifier) Emit(_ context.Context, event models.NotifyEvent) []models.NotifyResult {
	n.events = append(n.events, event)
	return nil
}

func newOrchestrator(t *testing.T) (*Orchestrator, *recordingNotifier, *hooks.Dispatcher) {
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
		t.Fatal(err)
	}
	cache := tenant.NewCache(store, catalog, registry, dispatcher, config.CacheConfig{
		IdleTTL:       time.Minute,
		MaxInstances:  8,
		SweepInterval: time.Minute,
	})
	t.Cleanup(cache.Close)

	if _, err := store.PutTenant(context.Background(), &models.TenantConfig{TenantID: "acme"}); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	return NewOrchestrator(cache, notifier), notifier, dispatcher
}

func TestIngestThenQuery(t *testing.T) {
	o, notifier, _ := newOrchestrator(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "d1", Content: "The cheshire cat grins from the tree."},
		{ID: "d2", Content: "The white rabbit checks a pocket watch."},
	}
	result, err := o.Ingest(ctx, "acme", "wonderland.txt", docs)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Documents != 2 || result.Chunks < 2 {
		t.Fatalf("result = %+v, want 2 documents and at least 2 chunks", result)
	}

	hits, err := o.Query(ctx, "acme", "The cheshire cat grins from the tree.", 1)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if !strings.Contains(hits[0].Content, "cheshire cat") {
		t.Errorf("top hit = %q, want the cat document", hits[0].Content)
	}
	if hits[0].Metadata["source"] != "wonderland.txt" {
		t.Errorf("hit metadata = %v, want source recorded", hits[0].Metadata)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("got %d notify events, want 1", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Type != models.EventKnowledgeSourceLoaded || !event.Success || event.Source != "wonderland.txt" {
		t.Errorf("event = %+v", event)
	}
}

func TestIngestHookSkipsDocument(t *testing.T) {
	o, _, dispatcher := newOrchestrator(t)
	ctx := context.Background()

	dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeDocumentStored,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			if content, _ := p["content"].(string); strings.Contains(content, "secret") {
				return hooks.FastReply(p), nil
			}
			return hooks.Continue(p), nil
		},
	})

	result, err := o.Ingest(ctx, "acme", "mixed.txt", []Document{
		{Content: "public knowledge"},
		{Content: "secret recipe, do not store"},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", result.Chunks)
	}
}

func TestIngestHookRewritesContent(t *testing.T) {
	o, _, dispatcher := newOrchestrator(t)
	ctx := context.Background()

	dispatcher.Register(hooks.Registration{
		Hook:  hooks.BeforeDocumentStored,
		Owner: plugins.CorePlugin,
		Fn: func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			p["content"] = "redacted"
			return hooks.Continue(p), nil
		},
	})

	if _, err := o.Ingest(ctx, "acme", "raw.txt", []Document{{Content: "original text"}}); err != nil {
		t.Fatal(err)
	}
	hits, err := o.Query(ctx, "acme", "redacted", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Content != "redacted" {
		t.Fatalf("hits = %+v, want the rewritten content", hits)
	}
}

func TestQueryUnknownTenant(t *testing.T) {
	o, _, _ := newOrchestrator(t)

	_, err := o.Query(context.Background(), "ghost", "anything", 3)
	if err == nil {
		t.Fatal("expected error for unknown tenant")
	}
}
