package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

func writePlugin(t *testing.T, root, name string, manifest string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

func passthrough(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
	return hooks.Continue(p), nil
}

func newTestCatalog(root string, contributors map[string]Contributor) *Catalog {
	return NewCatalog(Options{
		Paths:        []string{root},
		Contributors: contributors,
		Dispatcher:   hooks.NewDispatcher(),
		Registry:     factory.NewRegistry(),
	})
}

func TestLoadOrdersDependenciesFirst(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "zeta", "name: zeta\nversion: 1.0.0\n")
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\ndependencies: [zeta]\n")
	writePlugin(t, root, "beta", "name: beta\nversion: 1.0.0\n")

	c := newTestCatalog(root, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	list := c.List()
	names := make([]string, len(list))
	for i, info := range list {
		names[i] = info.Manifest.Name
		if info.LoadIndex != i {
			t.Errorf("%s has load index %d, want %d", info.Manifest.Name, info.LoadIndex, i)
		}
	}
	// core first, then dependency order with alphabetical ties.
	want := []string{"core", "beta", "zeta", "alpha"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("load order = %v, want %v", names, want)
		}
	}
	if !list[0].Core {
		t.Error("first entry is not the core plugin")
	}
}

func TestLoadMissingDependency(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\ndependencies: [ghost]\n")

	c := newTestCatalog(root, nil)
	err := c.Load(context.Background())
	var depErr DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyError, got %v", err)
	}
	if depErr.Plugin != "alpha" || depErr.Dependency != "ghost" {
		t.Errorf("error names %s/%s, want alpha/ghost", depErr.Plugin, depErr.Dependency)
	}
}

func TestLoadDependencyCycle(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "a", "name: a\nversion: 1.0.0\ndependencies: [b]\n")
	writePlugin(t, root, "b", "name: b\nversion: 1.0.0\ndependencies: [a]\n")

	c := newTestCatalog(root, nil)
	err := c.Load(context.Background())
	var cycleErr CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Plugins) != 2 {
		t.Errorf("cycle members = %v, want [a b]", cycleErr.Plugins)
	}
}

func TestLoadBindsHooksInLoadOrder(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "first", "name: first\nversion: 1.0.0\nhooks:\n  - name: before_message_read\n    priority: 5\n")
	writePlugin(t, root, "second", "name: second\nversion: 1.0.0\nhooks:\n  - name: before_message_read\n    priority: 5\n")

	var calls []string
	record := func(owner string) hooks.Handler {
		return func(_ context.Context, p hooks.Payload) (hooks.Outcome, error) {
			calls = append(calls, owner)
			return hooks.Continue(p), nil
		}
	}

	dispatcher := hooks.NewDispatcher()
	c := NewCatalog(Options{
		Paths: []string{root},
		Contributors: map[string]Contributor{
			"first":  {Hooks: map[string]hooks.Handler{"before_message_read": record("first")}},
			"second": {Hooks: map[string]hooks.Handler{"before_message_read": record("second")}},
		},
		Dispatcher: dispatcher,
		Registry:   factory.NewRegistry(),
	})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := dispatcher.Dispatch(context.Background(), "before_message_read", hooks.Payload{}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// Equal priority: alphabetical load order breaks the tie.
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("dispatch order = %v, want [first second]", calls)
	}
}

func TestLoadRejectsDeclaredHookWithoutHandler(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "mute", "name: mute\nversion: 1.0.0\nhooks:\n  - name: agent_fast_reply\n")

	c := newTestCatalog(root, nil)
	err := c.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "mute") || !strings.Contains(err.Error(), "agent_fast_reply") {
		t.Fatalf("error should name plugin and hook, got %v", err)
	}
}

func TestDuplicateFactoryAcrossPluginsNamesBoth(t *testing.T) {
	root := t.TempDir()
	manifest := "name: %s\nversion: 1.0.0\nfactories:\n  - kind: llm\n    name: mega\n"
	writePlugin(t, root, "p1", fmt.Sprintf(manifest, "p1"))
	writePlugin(t, root, "p2", fmt.Sprintf(manifest, "p2"))

	ctor := func(context.Context, string, map[string]any) (any, error) { return struct{}{}, nil }
	contributor := Contributor{Constructors: map[models.ComponentKind]map[string]factory.Constructor{
		models.KindLLM: {"mega": ctor},
	}}

	c := newTestCatalog(root, map[string]Contributor{"p1": contributor, "p2": contributor})
	err := c.Load(context.Background())
	var dup factory.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.Owner != "p1" || dup.Rival != "p2" {
		t.Errorf("duplicate names %q/%q, want p1/p2", dup.Owner, dup.Rival)
	}
}

func TestPluginFactoryExtendsAllowList(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "ext", "name: ext\nversion: 1.0.0\nfactories:\n  - kind: llm\n    name: custom\n")

	registry := factory.NewRegistry()
	ctor := func(context.Context, string, map[string]any) (any, error) { return struct{}{}, nil }
	c := NewCatalog(Options{
		Paths: []string{root},
		Contributors: map[string]Contributor{
			"ext": {Constructors: map[models.ComponentKind]map[string]factory.Constructor{
				models.KindLLM: {"custom": ctor},
			}},
		},
		Dispatcher: hooks.NewDispatcher(),
		Registry:   registry,
	})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !registry.Allowed(models.KindLLM, "custom") {
		t.Error("plugin contribution missing from allow-list")
	}
	if !registry.Allowed(models.KindLLM, "echo") {
		t.Error("core defaults missing from allow-list")
	}
}

func TestUninstallBlockedByDependents(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "base", "name: base\nversion: 1.0.0\n")
	writePlugin(t, root, "child", "name: child\nversion: 1.0.0\ndependencies: [base]\n")
	writePlugin(t, root, "grandchild", "name: grandchild\nversion: 1.0.0\ndependencies: [child]\n")

	c := newTestCatalog(root, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := c.Uninstall(context.Background(), "base", false); err == nil {
		t.Fatal("uninstall with dependents should fail without cascade")
	}

	removed, err := c.Uninstall(context.Background(), "base", true)
	if err != nil {
		t.Fatalf("cascade uninstall error = %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("removed = %v, want base, child and grandchild", removed)
	}
	if c.Has("child") || c.Has("grandchild") {
		t.Error("dependents still active after cascade")
	}
}

func TestUninstallCoreRejected(t *testing.T) {
	c := newTestCatalog(t.TempDir(), nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Uninstall(context.Background(), CorePlugin, true); err == nil {
		t.Fatal("core plugin must not be uninstallable")
	}
}

func TestInstallCopiesPackageAndBumpsGeneration(t *testing.T) {
	root := t.TempDir()
	c := newTestCatalog(root, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := c.Generation()

	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, ManifestFile), []byte("name: fresh\nversion: 2.0.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := c.Install(context.Background(), source)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if info.Manifest.Version != "2.0.0" {
		t.Errorf("installed version = %q", info.Manifest.Version)
	}
	if !c.Has("fresh") {
		t.Error("plugin not active after install")
	}
	if _, err := os.Stat(filepath.Join(root, "fresh", ManifestFile)); err != nil {
		t.Errorf("package not copied into plugin path: %v", err)
	}
	if c.Generation() <= before {
		t.Error("generation did not advance")
	}

	if _, err := c.Install(context.Background(), source); err == nil {
		t.Error("reinstalling an active plugin should fail")
	}
}

func TestInstallBrokenPluginRollsBack(t *testing.T) {
	root := t.TempDir()
	c := newTestCatalog(root, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	source := t.TempDir()
	// Depends on a plugin that does not exist, so activation fails.
	if err := os.WriteFile(filepath.Join(source, ManifestFile), []byte("name: broken\nversion: 1.0.0\ndependencies: [ghost]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Install(context.Background(), source); err == nil {
		t.Fatal("install of a broken plugin should fail")
	}
	if c.Has("broken") {
		t.Error("broken plugin left active")
	}
	if _, err := os.Stat(filepath.Join(root, "broken")); !os.IsNotExist(err) {
		t.Error("broken package not rolled back from plugin path")
	}
}

func TestUnregisterOnReload(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "hooked", "name: hooked\nversion: 1.0.0\nhooks:\n  - name: before_reply_sent\n")

	dispatcher := hooks.NewDispatcher()
	c := NewCatalog(Options{
		Paths: []string{root},
		Contributors: map[string]Contributor{
			"hooked": {Hooks: map[string]hooks.Handler{"before_reply_sent": passthrough}},
		},
		Dispatcher: dispatcher,
		Registry:   factory.NewRegistry(),
	})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dispatcher.HandlerCount("before_reply_sent") != 1 {
		t.Fatal("hook not registered on load")
	}

	if _, err := c.Uninstall(context.Background(), "hooked", false); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if dispatcher.HandlerCount("before_reply_sent") != 0 {
		t.Error("hook still registered after uninstall")
	}
}

