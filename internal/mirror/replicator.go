package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/hotelops/livesync/internal/metrics"
	"github.com/hotelops/livesync/internal/model"
)

// Replicator adapts the dispatcher's per-event mirroring onto the
// durable store.
type Replicator struct {
	store   Store
	timeout time.Duration
}

func NewReplicator(store Store) *Replicator {
	return &Replicator{store: store, timeout: 2 * time.Second}
}

// Mirror upserts the entity for created/updated and writes a tombstone
// for deleted. Events without an extractable entity id cannot be keyed
// and are rejected.
func (r *Replicator) Mirror(ev model.ChangeEvent) error {
	if ev.EntityID == "" {
		return fmt.Errorf("mirror: event %s (%s %s) has no entity id", ev.ID, ev.Category, ev.Operation)
	}

	e := Entry{
		Category: ev.Category,
		EntityID: ev.EntityID,
		Record:   ev.Entity,
		Deleted:  ev.Operation == model.OpDeleted,
	}
	if e.Deleted {
		e.Record = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Put(ctx, e); err != nil {
		return err
	}
	metrics.MirrorWritesTotal.Inc()
	return nil
}

// MarkAllStale is invoked once per offline→online transition.
func (r *Replicator) MarkAllStale() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.store.MarkAllStale(ctx)
}
