// Package models defines the shared data model for the CheshireCat core:
// tenant configuration, plugin manifests, synchronization messages, and the
// records exchanged between the runtime and its pluggable components.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Component kinds ──────────────────────────────────────────

// ComponentKind identifies a pluggable component slot in a tenant's
// configuration. The set is closed; plugins extend the implementations
// available per kind, never the kinds themselves.
type ComponentKind string

const (
	KindVectorDatabase ComponentKind = "vector_database"
	KindChunker        ComponentKind = "chunker"
	KindFileManager    ComponentKind = "file_manager"
	KindLLM            ComponentKind = "llm"
	KindAuthHandler    ComponentKind = "auth_handler"
	KindEmbedder       ComponentKind = "embedder"
)

// AllComponentKinds lists every kind, in the order the tenant builder
// resolves them.
func AllComponentKinds() []ComponentKind {
	return []ComponentKind{
		KindVectorDatabase,
		KindChunker,
		KindFileManager,
		KindLLM,
		KindAuthHandler,
		KindEmbedder,
	}
}

// Valid reports whether k is one of the declared component kinds.
func (k ComponentKind) Valid() bool {
	switch k {
	case KindVectorDatabase, KindChunker, KindFileManager, KindLLM, KindAuthHandler, KindEmbedder:
		return true
	}
	return false
}

// ── Tenant configuration ─────────────────────────────────────

// FactorySelection names the implementation chosen for one component kind
// plus its constructor parameters, as stored in the settings store.
type FactorySelection struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// TenantConfig is the per-tenant record owned by the settings store.
// It is mutated only through explicit configuration operations, never by
// request processing. Version increases monotonically on every write and
// is carried on sync messages so replicas can discard stale updates.
type TenantConfig struct {
	TenantID       string                             `json:"tenant_id"`
	Selections     map[ComponentKind]FactorySelection `json:"selections"`
	EnabledPlugins []string                           `json:"enabled_plugins"`
	Version        int64                              `json:"version"`
	UpdatedAt      time.Time                          `json:"updated_at"`
}

// Selection returns the selection for kind, falling back to the given
// default implementation name when the tenant has none recorded.
func (c *TenantConfig) Selection(kind ComponentKind, fallback string) FactorySelection {
	if sel, ok := c.Selections[kind]; ok && sel.Name != "" {
		return sel
	}
	return FactorySelection{Name: fallback}
}

// PluginEnabled reports whether the tenant has the named plugin enabled.
func (c *TenantConfig) PluginEnabled(name string) bool {
	for _, p := range c.EnabledPlugins {
		if p == name {
			return true
		}
	}
	return false
}

// SystemTenantID keys process-wide (non-tenant) settings in the store.
const SystemTenantID = "system"

// ValidateTenantID rejects empty or reserved tenant identifiers.
func ValidateTenantID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("tenant id must not be empty")
	}
	if id == SystemTenantID {
		return fmt.Errorf("tenant id %q is reserved", id)
	}
	return nil
}

// ── Plugin manifests ─────────────────────────────────────────

// HookDecl declares one hook a plugin attaches to, with its priority.
// Lower priorities run earlier; ties break by plugin load order.
type HookDecl struct {
	Name     string `yaml:"name" json:"name"`
	Priority int    `yaml:"priority" json:"priority"`
}

// FactoryDecl declares a factory implementation a plugin contributes for
// one component kind.
type FactoryDecl struct {
	Kind ComponentKind `yaml:"kind" json:"kind"`
	Name string        `yaml:"name" json:"name"`
}

// PluginManifest is the parsed plugin.yaml of an installed plugin package.
// Immutable once loaded; a reinstall produces a new manifest.
type PluginManifest struct {
	Name         string        `yaml:"name" json:"name"`
	Version      string        `yaml:"version" json:"version"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Author       string        `yaml:"author,omitempty" json:"author,omitempty"`
	Dependencies []string      `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Hooks        []HookDecl    `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Factories    []FactoryDecl `yaml:"factories,omitempty" json:"factories,omitempty"`
	Tools        []string      `yaml:"tools,omitempty" json:"tools,omitempty"`
	Forms        []string      `yaml:"forms,omitempty" json:"forms,omitempty"`
}

// PluginInfo is the installed-plugin view returned by the admin API:
// the manifest plus its position in the resolved load order.
type PluginInfo struct {
	Manifest  PluginManifest `json:"manifest"`
	Path      string         `json:"path,omitempty"`
	LoadIndex int            `json:"load_index"`
	Core      bool           `json:"core"`
}

// ── Synchronization messages ─────────────────────────────────

// SyncKind is the kind of a cross-replica synchronization message.
type SyncKind string

const (
	SyncPluginInstalled   SyncKind = "plugin-installed"
	SyncPluginUninstalled SyncKind = "plugin-uninstalled"
	SyncSettingsChanged   SyncKind = "settings-changed"
	SyncTenantInvalidate  SyncKind = "tenant-invalidate"
)

// SyncMessage is the wire record broadcast between replicas when plugins
// or settings change. TenantID is empty for global scope. Delivery is
// at-least-once; consumers deduplicate on IdempotencyKey and discard
// messages whose Version is older than the last applied one for the
// same tenant.
type SyncMessage struct {
	Kind           SyncKind  `json:"kind"`
	TenantID       string    `json:"tenant_id,omitempty"`
	Plugin         string    `json:"plugin,omitempty"`
	Version        int64     `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotency_key"`
	SourceReplica  string    `json:"source_replica"`
}

// Global reports whether the message applies to every tenant.
func (m SyncMessage) Global() bool { return m.TenantID == "" }

// ── Documents and retrieval ──────────────────────────────────

// Chunk is one piece of a split document, carrying its position and any
// metadata inherited from the source.
type Chunk struct {
	Text     string            `json:"text"`
	Index    int               `json:"index"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VectorDoc is an embedded chunk as stored in a vector database.
type VectorDoc struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Vector    []float32         `json:"vector,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult is one similarity-search hit.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ── Conversation ─────────────────────────────────────────────

// ChatMessage is one turn handed to a language model.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ── Outbound notifications ───────────────────────────────────

// NotifyEventType names the outbound webhook events the core emits.
type NotifyEventType string

const (
	EventPluginInstalled       NotifyEventType = "plugin_installed"
	EventPluginUninstalled     NotifyEventType = "plugin_uninstalled"
	EventKnowledgeSourceLoaded NotifyEventType = "knowledge_source_loaded"
)

// NotifyEvent is the payload forwarded to external notifier collaborators.
type NotifyEvent struct {
	Type      NotifyEventType `json:"type"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Plugin    string          `json:"plugin,omitempty"`
	Source    string          `json:"source,omitempty"`
	Success   bool            `json:"success"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotifyResult reports one webhook dispatch attempt.
type NotifyResult struct {
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
