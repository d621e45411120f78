// Package server provides the public entry point for initializing the
// CheshireCat core runtime.
//
// This package exists in pkg/ (not internal/) so that embedders can compose
// the runtime with their own Go-side plugin contributors:
//
//	srv, err := server.NewWithOptions(ctx, server.Options{
//	    Contributors: map[string]plugins.Contributor{"my-plugin": myContributor},
//	})
//	http.ListenAndServe(":1865", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/api"
	"github.com/matteocacciola/cheshirecat-core/internal/api/handlers"
	"github.com/matteocacciola/cheshirecat-core/internal/config"
	"github.com/matteocacciola/cheshirecat-core/internal/eventbus"
	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/notify"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/internal/rag"
	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/internal/telemetry"
	"github.com/matteocacciola/cheshirecat-core/internal/tenant"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Options customize runtime assembly.
type Options struct {
	// Config overrides the environment-derived configuration when set.
	Config *config.Config

	// Contributors holds the Go side of installable plugins, keyed by
	// plugin name. A plugin whose manifest declares hooks or factories
	// without a matching contributor fails to load.
	Contributors map[string]plugins.Contributor
}

// Server holds the initialized runtime.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the settings store (Redis-backed or in-memory).
	Store settings.Store

	// Cache is the tenant instance cache, exposed for embedders that run
	// conversations outside the HTTP surface.
	Cache *tenant.Cache

	// Catalog is the active plugin set.
	Catalog *plugins.Catalog

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown. It stops the
	// sweeper, the synchronization channel and telemetry, and closes the
	// settings store.
	ShutdownFunc func(context.Context) error
}

// New initializes the runtime from environment configuration, with no
// Go-side plugin contributors.
func New(ctx context.Context) (*Server, error) {
	return NewWithOptions(ctx, Options{})
}

// NewWithOptions initializes all runtime components and returns a ready
// Server.
func NewWithOptions(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}

	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	crypto, err := settings.NewCrypto(cfg.Crypto.Key)
	if err != nil {
		return nil, err
	}

	var store settings.Store
	if cfg.Redis.Addr != "" {
		store, err = settings.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, crypto)
		if err != nil {
			return nil, fmt.Errorf("connect settings store: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis settings store connected")
	} else {
		store = settings.NewMemoryStore()
		log.Info().Msg("In-memory settings store initialized (single replica)")
	}

	dispatcher := hooks.NewDispatcher()
	registry := factory.NewRegistry()
	catalog := plugins.NewCatalog(plugins.Options{
		Paths:        cfg.Plugins.Paths,
		Contributors: opts.Contributors,
		Dispatcher:   dispatcher,
		Registry:     registry,
	})
	if err := catalog.Load(ctx); err != nil {
		return nil, fmt.Errorf("load plugin catalog: %w", err)
	}

	cache := tenant.NewCache(store, catalog, registry, dispatcher, cfg.Cache)
	cache.Start(ctx)

	applier := eventbus.NewApplier(cache, catalog)
	var bus eventbus.Bus
	if cfg.Broker.URL != "" {
		bus, err = eventbus.NewRabbitBus(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect synchronization channel: %w", err)
		}
		log.Info().Str("exchange", cfg.Broker.Exchange).Msg("Synchronization channel connected")
	} else {
		bus = eventbus.NopBus{}
		log.Info().Msg("Synchronization channel disabled (local-only)")
	}
	syncer := eventbus.NewSyncer(bus, applier)
	if err := syncer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start synchronization channel: %w", err)
	}

	notifier := notify.NewService(cfg.Notify)

	catalog.SetPublisher(func(ctx context.Context, kind models.SyncKind, plugin string) {
		syncer.Publish(ctx, kind, "", plugin, 0)
	})
	catalog.SetInvalidator(cache.InvalidateAll)
	catalog.SetNotifier(notifier)

	if cfg.Plugins.Watch {
		if err := catalog.Watch(ctx); err != nil {
			return nil, fmt.Errorf("watch plugin directories: %w", err)
		}
	}

	orchestrator := rag.NewOrchestrator(cache, notifier)

	h := handlers.New(store, catalog, registry, cache, syncer, orchestrator)
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		catalog.Close()
		syncer.Close()
		cache.Close()
		storeErr := store.Close()
		if err := telemetryShutdown(ctx); err != nil {
			return err
		}
		return storeErr
	}

	return &Server{
		Handler:      router,
		Store:        store,
		Cache:        cache,
		Catalog:      catalog,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
