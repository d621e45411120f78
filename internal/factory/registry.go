// Package factory holds the registry of pluggable component constructors
// and the built-in drivers. The set of component kinds is closed; plugins
// widen the per-kind allow-list by contributing named constructors, and the
// registry is rebuilt wholesale whenever the plugin catalog reloads.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Constructor builds one component instance for a tenant. Params arrive as
// stored in the settings store; constructors decode them with DecodeParams
// and return a ParamError on invalid input.
type Constructor func(ctx context.Context, tenantID string, params map[string]any) (any, error)

// Contribution is one named constructor offered for a component kind.
// Owner is the plugin that contributed it ("core" for built-ins) and is
// reported when two contributions collide on the same kind/name.
type Contribution struct {
	Kind        models.ComponentKind
	Name        string
	Owner       string
	Constructor Constructor
}

// NotAllowedError reports a construction attempt with a name outside the
// current allow-list for its kind. Distinct from ParamError so callers can
// map it to a configuration problem rather than bad parameters.
type NotAllowedError struct {
	Kind    models.ComponentKind
	Name    string
	Allowed []string
}

func (e NotAllowedError) Error() string {
	return fmt.Sprintf("no %s implementation named %q (allowed: %s)",
		e.Kind, e.Name, strings.Join(e.Allowed, ", "))
}

// ParamError reports that a constructor rejected its parameters.
type ParamError struct {
	Kind models.ComponentKind
	Name string
	Err  error
}

func (e ParamError) Error() string {
	return fmt.Sprintf("%s %q: invalid params: %v", e.Kind, e.Name, e.Err)
}

func (e ParamError) Unwrap() error { return e.Err }

// DuplicateError reports two contributions colliding on the same kind and
// name. Raised at catalog load time, never during construction.
type DuplicateError struct {
	Kind  models.ComponentKind
	Name  string
	Owner string
	Rival string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s %q contributed by both %q and %q",
		e.Kind, e.Name, e.Owner, e.Rival)
}

type entry struct {
	owner string
	ctor  Constructor
}

// Registry resolves (kind, name) pairs to constructors. Rebuild swaps the
// whole table atomically; lookups take a read lock only.
type Registry struct {
	mu      sync.RWMutex
	entries map[models.ComponentKind]map[string]entry
}

// NewRegistry returns an empty registry. It becomes useful after the first
// Rebuild, normally with CoreContributions plus the catalog's.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[models.ComponentKind]map[string]entry)}
}

// Rebuild replaces the allow-lists with the given contributions. On a
// duplicate kind/name pair the registry is left unchanged and the error
// names both owners.
func (r *Registry) Rebuild(contribs []Contribution) error {
	next := make(map[models.ComponentKind]map[string]entry)
	for _, c := range contribs {
		if !c.Kind.Valid() {
			return fmt.Errorf("unknown component kind %q (contributed by %q)", c.Kind, c.Owner)
		}
		if c.Name == "" {
			return fmt.Errorf("%s contribution from %q has no name", c.Kind, c.Owner)
		}
		if c.Constructor == nil {
			return fmt.Errorf("%s %q from %q has no constructor", c.Kind, c.Name, c.Owner)
		}
		byName, ok := next[c.Kind]
		if !ok {
			byName = make(map[string]entry)
			next[c.Kind] = byName
		}
		if prev, exists := byName[c.Name]; exists {
			return DuplicateError{Kind: c.Kind, Name: c.Name, Owner: prev.owner, Rival: c.Owner}
		}
		byName[c.Name] = entry{owner: c.Owner, ctor: c.Constructor}
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
	return nil
}

// AllowedNames returns the implementation names currently registered for
// kind, sorted.
func (r *Registry) AllowedNames(kind models.ComponentKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries[kind]))
	for name := range r.entries[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allowed reports whether name is registered for kind.
func (r *Registry) Allowed(kind models.ComponentKind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind][name]
	return ok
}

// Construct builds the named implementation for the tenant. A name outside
// the allow-list yields NotAllowedError; constructor failures pass through
// (parameter problems arrive as ParamError).
func (r *Registry) Construct(ctx context.Context, tenantID string, kind models.ComponentKind, name string, params map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[kind][name]
	r.mu.RUnlock()
	if !ok {
		return nil, NotAllowedError{Kind: kind, Name: name, Allowed: r.AllowedNames(kind)}
	}
	return e.ctor(ctx, tenantID, params)
}

// DecodeParams decodes loosely typed settings params into a driver config
// struct. Weak typing tolerates JSON round-trips turning ints into floats.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
