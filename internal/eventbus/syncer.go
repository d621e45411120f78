package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// Syncer is the replica's face of the synchronization channel: it stamps
// outgoing messages, applies them locally before broadcasting, and feeds
// incoming ones to the applier. Local-first application means a mutation
// is visible on the originating replica before the triggering call
// returns, with or without a working broker.
type Syncer struct {
	bus     Bus
	applier *Applier
	replica string
}

// NewSyncer wires a syncer over bus and applier. The applier learns the
// replica id here so it can tell this replica's messages from remote ones.
func NewSyncer(bus Bus, applier *Applier) *Syncer {
	s := &Syncer{bus: bus, applier: applier, replica: ReplicaID()}
	applier.replica = s.replica
	return s
}

// Replica returns this process's replica id.
func (s *Syncer) Replica() string { return s.replica }

// Start begins consuming broadcasts from other replicas (and this one's
// own echoes, which the applier's dedup turns into no-ops).
func (s *Syncer) Start(ctx context.Context) error {
	return s.bus.Start(ctx, s.applier.Apply)
}

// Publish stamps, locally applies and broadcasts one mutation. Broadcast
// failures degrade to local-only operation; they are logged, never
// propagated, because the local mutation has already been applied.
func (s *Syncer) Publish(ctx context.Context, kind models.SyncKind, tenantID, plugin string, version int64) {
	msg := models.SyncMessage{
		Kind:           kind,
		TenantID:       tenantID,
		Plugin:         plugin,
		Version:        version,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: uuid.NewString(),
		SourceReplica:  s.replica,
	}

	s.applier.Apply(ctx, msg)

	if err := s.bus.Publish(ctx, msg); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Sync broadcast failed, continuing local-only")
	}
}

// Close tears down the underlying transport.
func (s *Syncer) Close() error { return s.bus.Close() }
