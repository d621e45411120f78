package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// rescanDebounce coalesces bursts of filesystem events into one reload.
const rescanDebounce = 500 * time.Millisecond

// NotInstalledError reports an operation on a plugin the catalog does not
// hold.
type NotInstalledError struct {
	Name string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("plugin %q is not installed", e.Name)
}

// AlreadyInstalledError reports an Install of a plugin name already active.
type AlreadyInstalledError struct {
	Name string
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("plugin %q is already installed", e.Name)
}

// DependentsError reports an Uninstall blocked by plugins that depend on the
// target.
type DependentsError struct {
	Name       string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("plugin %q is required by %v (use cascade to remove them too)", e.Name, e.Dependents)
}

// Options assemble a Catalog.
type Options struct {
	// Paths are the directories scanned for plugin packages. Install
	// copies new plugins into the first one.
	Paths []string

	// Contributors holds the Go side of each installable plugin, keyed
	// by plugin name.
	Contributors map[string]Contributor

	Dispatcher *hooks.Dispatcher
	Registry   *factory.Registry
}

// Catalog is the active plugin set. Load discovers manifests, resolves the
// dependency order and applies hook registrations and factory allow-lists;
// Install and Uninstall mutate the set and reload. Every successful
// mutation bumps the generation counter so cached tenant instances built
// against an older catalog can detect they are stale.
type Catalog struct {
	paths        []string
	contributors map[string]Contributor
	dispatcher   *hooks.Dispatcher
	registry     *factory.Registry

	generation atomic.Int64

	mu     sync.RWMutex
	active map[string]models.PluginInfo
	order  []string

	publish    func(ctx context.Context, kind models.SyncKind, plugin string)
	notifier   contracts.Notifier
	invalidate func()

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewCatalog builds an empty catalog; call Load before serving.
func NewCatalog(opts Options) *Catalog {
	return &Catalog{
		paths:        opts.Paths,
		contributors: opts.Contributors,
		dispatcher:   opts.Dispatcher,
		registry:     opts.Registry,
		active:       make(map[string]models.PluginInfo),
	}
}

// SetPublisher sets the broadcast callback invoked after local mutations
// have been applied. Without one, mutations stay replica-local.
func (c *Catalog) SetPublisher(fn func(ctx context.Context, kind models.SyncKind, plugin string)) {
	c.publish = fn
}

// SetNotifier sets the outbound webhook notifier for install/uninstall
// events.
func (c *Catalog) SetNotifier(n contracts.Notifier) { c.notifier = n }

// SetInvalidator sets the callback that drops cached tenant instances
// after a catalog mutation.
func (c *Catalog) SetInvalidator(fn func()) { c.invalidate = fn }

// Generation returns the current catalog generation. It increases on
// every successful load or mutation.
func (c *Catalog) Generation() int64 { return c.generation.Load() }

// Load scans the plugin directories and activates everything found, in
// dependency order, with the built-in core plugin first. On any error the
// previous active set stays in place.
func (c *Catalog) Load(ctx context.Context) error {
	infos, err := discoverManifests(c.paths)
	if err != nil {
		return err
	}
	return c.apply(ctx, infos)
}

func (c *Catalog) apply(_ context.Context, infos []models.PluginInfo) error {
	order, err := resolveOrder(infos)
	if err != nil {
		return err
	}

	// Collect all registrations before touching shared state so a broken
	// plugin cannot leave a half-applied catalog behind.
	contribs := factory.CoreContributions()
	regsByPlugin := make(map[string][]hooks.Registration, len(infos))
	byName := make(map[string]models.PluginInfo, len(infos))
	for _, info := range infos {
		byName[info.Manifest.Name] = info
	}
	for i, name := range order {
		info := byName[name]
		info.LoadIndex = i + 1 // core occupies slot 0
		byName[name] = info

		regs, pluginContribs, err := bind(info, c.contributors[name])
		if err != nil {
			return err
		}
		regsByPlugin[name] = regs
		contribs = append(contribs, pluginContribs...)
	}

	if err := c.registry.Rebuild(contribs); err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.order
	for _, name := range previous {
		c.dispatcher.UnregisterOwner(name)
	}
	for _, name := range order {
		c.dispatcher.RegisterAll(regsByPlugin[name])
	}
	c.active = byName
	c.order = order
	c.mu.Unlock()

	gen := c.generation.Add(1)
	log.Info().Int64("generation", gen).Int("plugins", len(order)).Msg("Plugin catalog loaded")
	if c.invalidate != nil {
		c.invalidate()
	}
	return nil
}

// List returns the active plugins in load order, the core plugin first.
func (c *Catalog) List() []models.PluginInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.PluginInfo, 0, len(c.order)+1)
	out = append(out, coreInfo())
	for _, name := range c.order {
		out = append(out, c.active[name])
	}
	return out
}

// Get returns one active plugin by name.
func (c *Catalog) Get(name string) (models.PluginInfo, bool) {
	if name == CorePlugin {
		return coreInfo(), true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.active[name]
	return info, ok
}

// Has reports whether the named plugin is active.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

func coreInfo() models.PluginInfo {
	return models.PluginInfo{
		Manifest: models.PluginManifest{
			Name:        CorePlugin,
			Version:     "builtin",
			Description: "Built-in components and default hook chain",
		},
		LoadIndex: 0,
		Core:      true,
	}
}

// Install copies a plugin package directory into the managed plugin path
// and reloads the catalog. The source must contain a valid plugin.yaml.
func (c *Catalog) Install(ctx context.Context, sourceDir string) (models.PluginInfo, error) {
	if len(c.paths) == 0 {
		return models.PluginInfo{}, fmt.Errorf("no plugin path configured")
	}
	manifest, err := LoadManifest(filepath.Join(sourceDir, ManifestFile))
	if err != nil {
		return models.PluginInfo{}, err
	}
	if c.Has(manifest.Name) {
		return models.PluginInfo{}, &AlreadyInstalledError{Name: manifest.Name}
	}

	dest := filepath.Join(c.paths[0], manifest.Name)
	if err := os.CopyFS(dest, os.DirFS(sourceDir)); err != nil {
		return models.PluginInfo{}, fmt.Errorf("install %q: %w", manifest.Name, err)
	}

	if err := c.Load(ctx); err != nil {
		// Roll the package back so a broken plugin does not poison every
		// future rescan.
		_ = os.RemoveAll(dest)
		if loadErr := c.Load(ctx); loadErr != nil {
			log.Error().Err(loadErr).Msg("Catalog reload after rollback failed")
		}
		return models.PluginInfo{}, err
	}

	info, _ := c.Get(manifest.Name)
	log.Info().Str("plugin", manifest.Name).Str("version", manifest.Version).Msg("Plugin installed")
	c.afterMutation(ctx, models.SyncPluginInstalled, models.EventPluginInstalled, manifest.Name)
	return info, nil
}

// Uninstall removes a plugin package and reloads. Removing a plugin that
// others depend on fails unless cascade is set, in which case all
// transitive dependents are removed too. Returns the names removed.
func (c *Catalog) Uninstall(ctx context.Context, name string, cascade bool) ([]string, error) {
	if name == CorePlugin {
		return nil, fmt.Errorf("the core plugin cannot be uninstalled")
	}

	c.mu.RLock()
	_, ok := c.active[name]
	dependents := c.transitiveDependents(name)
	c.mu.RUnlock()
	if !ok {
		return nil, &NotInstalledError{Name: name}
	}
	if len(dependents) > 0 && !cascade {
		sort.Strings(dependents)
		return nil, &DependentsError{Name: name, Dependents: dependents}
	}

	removed := append([]string{name}, dependents...)
	sort.Strings(removed)
	for _, victim := range removed {
		victimInfo, _ := c.Get(victim)
		if victimInfo.Path == "" {
			continue
		}
		if err := os.RemoveAll(victimInfo.Path); err != nil {
			return nil, fmt.Errorf("uninstall %q: %w", victim, err)
		}
	}

	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	for _, victim := range removed {
		log.Info().Str("plugin", victim).Msg("Plugin uninstalled")
		c.afterMutation(ctx, models.SyncPluginUninstalled, models.EventPluginUninstalled, victim)
	}
	return removed, nil
}

// transitiveDependents returns every active plugin that directly or
// indirectly depends on name. Caller holds at least a read lock.
func (c *Catalog) transitiveDependents(name string) []string {
	var out []string
	pending := []string{name}
	seen := map[string]bool{name: true}
	for len(pending) > 0 {
		target := pending[0]
		pending = pending[1:]
		for _, info := range c.active {
			if seen[info.Manifest.Name] {
				continue
			}
			for _, dep := range info.Manifest.Dependencies {
				if dep == target {
					seen[info.Manifest.Name] = true
					out = append(out, info.Manifest.Name)
					pending = append(pending, info.Manifest.Name)
					break
				}
			}
		}
	}
	return out
}

func (c *Catalog) afterMutation(ctx context.Context, kind models.SyncKind, event models.NotifyEventType, plugin string) {
	if c.publish != nil {
		c.publish(ctx, kind, plugin)
	}
	if c.notifier != nil {
		c.notifier.Emit(ctx, models.NotifyEvent{
			Type:      event,
			Plugin:    plugin,
			Success:   true,
			Timestamp: time.Now(),
		})
	}
}

// Watch starts observing the plugin directories and reloads the catalog
// when packages appear, change or disappear. Events are debounced.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugin watcher: %w", err)
	}
	for _, path := range c.paths {
		if err := watcher.Add(path); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("Plugin path not watchable")
		}
	}
	c.watcher = watcher
	c.watchDone = make(chan struct{})

	go func() {
		defer close(c.watchDone)
		var timer *time.Timer
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				log.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("Plugin directory changed")
				if timer == nil {
					timer = time.NewTimer(rescanDebounce)
				} else {
					timer.Reset(rescanDebounce)
				}
				pending = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Plugin watcher error")
			case <-pending:
				pending = nil
				if err := c.Load(ctx); err != nil {
					log.Error().Err(err).Msg("Plugin rescan failed")
				}
			}
		}
	}()
	return nil
}

// Close stops the directory watcher, if running.
func (c *Catalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.watchDone
	return err
}
