package plugins

import (
	"fmt"

	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// CorePlugin is the reserved name of the built-in plugin. It is always
// active, always first in load order, and cannot be uninstalled.
const CorePlugin = "core"

// Contributor carries the Go side of a plugin: the hook handlers and
// factory constructors its manifest declares. Manifests are discovered on
// disk; contributors are handed to the catalog explicitly, keyed by plugin
// name, when the process is assembled.
type Contributor struct {
	// Hooks maps hook name to handler. Every hook the manifest declares
	// must have an entry here.
	Hooks map[string]hooks.Handler

	// Constructors maps component kind and implementation name to a
	// constructor, matching the manifest's factory contributions.
	Constructors map[models.ComponentKind]map[string]factory.Constructor
}

func (c Contributor) constructor(kind models.ComponentKind, name string) (factory.Constructor, bool) {
	ctor, ok := c.Constructors[kind][name]
	return ctor, ok
}

// bind pairs one active plugin's manifest declarations with its
// contributor, producing the hook registrations and factory contributions
// to apply. A declaration without a matching Go counterpart fails the
// load, naming the plugin and the missing piece.
func bind(info models.PluginInfo, contributor Contributor) ([]hooks.Registration, []factory.Contribution, error) {
	name := info.Manifest.Name

	regs := make([]hooks.Registration, 0, len(info.Manifest.Hooks))
	for _, decl := range info.Manifest.Hooks {
		handler, ok := contributor.Hooks[decl.Name]
		if !ok {
			return nil, nil, fmt.Errorf("plugin %q declares hook %q but provides no handler", name, decl.Name)
		}
		regs = append(regs, hooks.Registration{
			Hook:     decl.Name,
			Owner:    name,
			Priority: decl.Priority,
			Fn:       handler,
		})
	}

	contribs := make([]factory.Contribution, 0, len(info.Manifest.Factories))
	for _, decl := range info.Manifest.Factories {
		ctor, ok := contributor.constructor(decl.Kind, decl.Name)
		if !ok {
			return nil, nil, fmt.Errorf("plugin %q declares factory %s/%s but provides no constructor", name, decl.Kind, decl.Name)
		}
		contribs = append(contribs, factory.Contribution{
			Kind:        decl.Kind,
			Name:        decl.Name,
			Owner:       name,
			Constructor: ctor,
		})
	}
	return regs, contribs, nil
}
