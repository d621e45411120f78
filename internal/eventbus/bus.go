// Package eventbus carries synchronization messages between replicas.
// Plugin and settings mutations apply locally first, then broadcast; every
// replica — the originator included — consumes idempotently, so delivery
// only needs to be at-least-once.
package eventbus

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Handler consumes one synchronization message.
type Handler func(ctx context.Context, msg models.SyncMessage)

// Bus is the broadcast transport between replicas.
type Bus interface {
	// Publish broadcasts msg to every replica, this one included.
	Publish(ctx context.Context, msg models.SyncMessage) error

	// Start begins consuming; handler runs for each received message.
	Start(ctx context.Context, handler Handler) error

	Close() error
}

// ReplicaID identifies this process on the bus: hostname plus a random
// suffix so replicas on one host stay distinct.
func ReplicaID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "replica"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// NopBus is the disabled-transport bus: publishes go nowhere and nothing
// is consumed. Local mutations still apply locally, so a single replica
// works unchanged.
type NopBus struct{}

func (NopBus) Publish(context.Context, models.SyncMessage) error { return nil }
func (NopBus) Start(context.Context, Handler) error              { return nil }
func (NopBus) Close() error                                      { return nil }
