package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// DependencyError reports a plugin whose declared dependency is absent
// from the active set.
type DependencyError struct {
	Plugin     string
	Dependency string
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("plugin %q depends on %q which is not installed", e.Plugin, e.Dependency)
}

// CycleError reports a dependency cycle; Plugins holds the members.
type CycleError struct {
	Plugins []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("plugin dependency cycle: %s", strings.Join(e.Plugins, " -> "))
}

// resolveOrder returns plugin names dependency-first. Independent plugins
// order alphabetically so the load order — and with it hook tie-breaking —
// is deterministic across replicas.
func resolveOrder(infos []models.PluginInfo) ([]string, error) {
	byName := make(map[string]models.PluginInfo, len(infos))
	for _, info := range infos {
		byName[info.Manifest.Name] = info
	}

	indegree := make(map[string]int, len(infos))
	dependents := make(map[string][]string)
	for _, info := range infos {
		name := info.Manifest.Name
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range info.Manifest.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, DependencyError{Plugin: name, Dependency: dep}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(infos))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		added := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				added = true
			}
		}
		if added {
			sort.Strings(ready)
		}
	}

	if len(order) != len(infos) {
		var cycle []string
		for name, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, CycleError{Plugins: cycle}
	}
	return order, nil
}
