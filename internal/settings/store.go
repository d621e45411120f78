// Package settings provides the client for the shared settings store: the
// single source of truth for tenant configuration, factory selections and
// plugin enablement. Everything cached in-process is a disposable derived
// view of this store.
//
// Two implementations ship: Redis (production, shared across replicas)
// and in-memory (tests, Redis-less local runs).
package settings

import (
	"context"
	"errors"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Store is the settings store client. All methods are safe for concurrent
// use. PutTenant assigns the new monotonically increasing version and
// returns it; callers carry that version on sync messages.
type Store interface {
	// GetTenant returns the tenant's configuration, or *ErrNotFound.
	GetTenant(ctx context.Context, tenantID string) (*models.TenantConfig, error)

	// PutTenant persists cfg, bumping and returning its version.
	PutTenant(ctx context.Context, cfg *models.TenantConfig) (int64, error)

	// DeleteTenant removes the tenant's configuration. Deleting an absent
	// tenant is a no-op.
	DeleteTenant(ctx context.Context, tenantID string) error

	// ListTenants returns the IDs of every configured tenant.
	ListTenants(ctx context.Context) ([]string, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a requested entity does not exist.
// It is distinct from transport errors: callers map it to "tenant not
// found" rather than "tenant not ready".
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
