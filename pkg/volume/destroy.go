package volume

import (
	"context"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/guard"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/txn"
	"github.com/cuemby/corectl/pkg/types"
)

// Destroy runs the volume-destroy composite workflow (§4.5.4). Errors
// destroying individual nexuses/replicas are logged but do not abort
// the sequence — the reconciler finishes any stragglers later.
func (s *Service) Destroy(ctx context.Context, volumeID string) (err error) {
	entry, ok := s.rr.Volumes.Get(volumeID)
	if !ok {
		return nil // already gone: destroy is idempotent
	}
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return corerrors.New(corerrors.Busy, "volume", volumeID)
	}
	defer g.Release()

	start := time.Now()
	defer s.observeWorkflow("volume.destroy", start, &err)

	vol := entry.Clone()
	if vol.Status == types.Deleted {
		return nil
	}

	clone, startErr := txn.DestroyStart[types.Volume, *types.Volume](entry, "volume", volumeID, func(v *types.Volume) bool {
		v.ReplicaIDs = nil
		v.Target = nil
		return true
	})
	if startErr != nil {
		return startErr
	}
	if err := txn.PersistIntent[types.Volume, *types.Volume](ctx, s.store, entry, "volume", volumeID, clone); err != nil {
		return err
	}

	// Step 2: destroy every nexus owned by this volume.
	for _, nexusEntry := range s.rr.Nexuses.Values() {
		nexus := nexusEntry.Clone()
		if nexus.Owner != volumeID {
			continue
		}
		if nexusErr := s.destroyOwnedNexus(ctx, nexusEntry, nexus); nexusErr != nil {
			s.logger.Warn().Err(nexusErr).Str("volume", volumeID).Str("nexus", nexus.ID).Msg("destroy: nexus teardown failed; reconciler will retry")
		}
		s.deleteNexusInfo(ctx, volumeID, nexus.ID)
	}
	// Step 3: in case a nexus was destroyed out-of-band earlier, the
	// configured target's per-nexus info entry may still be lingering.
	if vol.Target != nil {
		s.deleteNexusInfo(ctx, volumeID, vol.Target.NexusID)
	}

	// Step 4: destroy (or disown) every replica owned by this volume.
	for _, replicaID := range vol.ReplicaIDs {
		rEntry, ok := s.rr.Replicas.Get(replicaID)
		if !ok {
			continue
		}
		replica := rEntry.Clone()
		if replica.Node == "" {
			// Node can't be located: disown only, the garbage collector
			// sweeps it later (§4.5.4 step 4, exercised by S6).
			rEntry.Update(func(r *types.Replica) {
				r.Owners.Volume = ""
			})
			continue
		}
		if destroyErr := s.destroyReplicaDisownAll(ctx, replicaID); destroyErr != nil {
			s.logger.Warn().Err(destroyErr).Str("volume", volumeID).Str("replica", replicaID).Msg("destroy: replica teardown failed; reconciler will retry")
		}
	}

	if err := txn.DestroyComplete[types.Volume, *types.Volume](ctx, s.store, s.rr.Volumes, entry, "volume", volumeID, nil); err != nil {
		return err
	}
	s.notify(events.KindDelete, "volume", volumeID)
	return nil
}

// destroyOwnedNexus destroys a nexus owned by a volume, under the
// nexus's own guard: every owned nexus during volume destroy (§4.5.4
// step 2), and the replaced nexus after a republish moves the target.
func (s *Service) destroyOwnedNexus(ctx context.Context, entry *registry.Locked[types.Nexus], nexus types.Nexus) error {
	g, err := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if err != nil {
		return corerrors.New(corerrors.Busy, "nexus", nexus.ID)
	}
	defer g.Release()

	clone, startErr := txn.DestroyStart[types.Nexus, *types.Nexus](entry, "nexus", nexus.ID, func(n *types.Nexus) bool {
		n.Owner = ""
		return true
	})
	if startErr != nil {
		return startErr
	}
	if err := txn.PersistIntent[types.Nexus, *types.Nexus](ctx, s.store, entry, "nexus", nexus.ID, clone); err != nil {
		return err
	}

	client, dialErr := s.dispatcher.For(ctx, nexus.Node)
	var nodeErr error
	if dialErr != nil {
		nodeErr = dialErr
	} else {
		nodeErr = client.Nexus.Destroy(ctx, nodeclient.DestroyNexusRequest{NexusID: nexus.ID})
	}
	return txn.DestroyComplete[types.Nexus, *types.Nexus](ctx, s.store, s.rr.Nexuses, entry, "nexus", nexus.ID, nodeErr)
}
