package volume

import (
	"context"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/guard"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/txn"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
)

// CreateSnapshotRequest is the front-end create-snap request (§6).
type CreateSnapshotRequest struct {
	SnapshotID string
	VolumeID   string
}

// CreateSnapshot runs the snapshot-create composite workflow (§4.5.6):
// gated by the source volume's max-snapshots bound, the snapshot spec
// is persisted, then the creation is dispatched per-replica.
func (s *Service) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (result types.VolumeSnapshot, err error) {
	volEntry, ok := s.rr.Volumes.Get(req.VolumeID)
	if !ok {
		return types.VolumeSnapshot{}, errNotFound("volume", req.VolumeID)
	}
	g, acqErr := guard.Acquire(ctx, volEntry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return types.VolumeSnapshot{}, corerrors.New(corerrors.Busy, "volume", req.VolumeID)
	}
	defer g.Release()

	start := time.Now()
	defer s.observeWorkflow("volume.create_snapshot", start, &err)

	vol := volEntry.Clone()
	if len(vol.SnapshotIDs) >= vol.MaxSnapshots {
		return types.VolumeSnapshot{}, errSnapshotMaxLimit(req.VolumeID)
	}

	snapshotID := req.SnapshotID
	if snapshotID == "" {
		snapshotID = uuid.NewString()
	}
	snapEntry := s.rr.Snapshots.Insert(snapshotID, types.VolumeSnapshot{ID: snapshotID})

	clone, startErr := txn.CreateStart[types.VolumeSnapshot, *types.VolumeSnapshot](snapEntry, "snapshot", snapshotID, req)
	if startErr != nil {
		return clone, startErr
	}
	if err := txn.PersistIntent[types.VolumeSnapshot, *types.VolumeSnapshot](ctx, s.store, snapEntry, "snapshot", snapshotID, clone); err != nil {
		s.rr.Snapshots.Remove(snapshotID)
		return clone, err
	}

	var firstErr error
	for _, replicaID := range vol.ReplicaIDs {
		if err := s.snapshotReplica(ctx, replicaID, snapshotID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	onFail := func(error) types.OnCreateFail { return types.OnCreateFailSetDeleting }
	var nodeResult txn.Result[types.VolumeSnapshot]
	if firstErr != nil {
		nodeResult = txn.Failed[types.VolumeSnapshot](firstErr)
	} else {
		nodeResult = txn.Ok[types.VolumeSnapshot](func(snap *types.VolumeSnapshot) {
			snap.SourceVolume = req.VolumeID
		})
	}

	result, err = txn.CreateComplete[types.VolumeSnapshot, *types.VolumeSnapshot](ctx, s.store, snapEntry, "snapshot", snapshotID, nodeResult, onFail)
	if err != nil {
		return result, err
	}

	volEntry.Update(func(v *types.Volume) {
		v.SnapshotIDs = append(v.SnapshotIDs, snapshotID)
	})
	s.notify(events.KindPut, "snapshot", snapshotID)
	return result, nil
}

func (s *Service) snapshotReplica(ctx context.Context, replicaID, snapshotID string) error {
	rEntry, ok := s.rr.Replicas.Get(replicaID)
	if !ok {
		return errNotFound("replica", replicaID)
	}
	replica := rEntry.Clone()

	client, err := s.dispatcher.For(ctx, replica.Node)
	if err != nil {
		return err
	}
	_, err = client.Replica.CreateSnapshot(ctx, nodeclient.CreateReplicaSnapshotRequest{ReplicaID: replicaID, SnapshotID: snapshotID})
	return err
}

// DestroySnapshot looks up the snapshot and its source volume (§4.5.6):
// if the source volume still exists, the destroy runs under the
// volume's guard; otherwise under the snapshot's own guard.
func (s *Service) DestroySnapshot(ctx context.Context, snapshotID string) (err error) {
	snapEntry, ok := s.rr.Snapshots.Get(snapshotID)
	if !ok {
		return nil
	}
	snap := snapEntry.Clone()

	start := time.Now()
	defer s.observeWorkflow("volume.destroy_snapshot", start, &err)

	var guardEntry interface{ Guard() *guard.Cell }
	if snap.SourceVolume != "" {
		if volEntry, ok := s.rr.Volumes.Get(snap.SourceVolume); ok {
			guardEntry = volEntry
		}
	}
	if guardEntry == nil {
		guardEntry = snapEntry
	}

	g, acqErr := guard.Acquire(ctx, guardEntry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return corerrors.New(corerrors.Busy, "snapshot", snapshotID)
	}
	defer g.Release()

	clone, startErr := txn.DestroyStart[types.VolumeSnapshot, *types.VolumeSnapshot](snapEntry, "snapshot", snapshotID, func(v *types.VolumeSnapshot) bool {
		return true
	})
	if startErr != nil {
		return startErr
	}
	if err := txn.PersistIntent[types.VolumeSnapshot, *types.VolumeSnapshot](ctx, s.store, snapEntry, "snapshot", snapshotID, clone); err != nil {
		return err
	}

	var firstErr error
	for _, replicaID := range s.replicasOf(snap.SourceVolume) {
		if err := s.destroySnapshotOnReplica(ctx, replicaID, snapshotID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := txn.DestroyComplete[types.VolumeSnapshot, *types.VolumeSnapshot](ctx, s.store, s.rr.Snapshots, snapEntry, "snapshot", snapshotID, firstErr); err != nil {
		return err
	}

	if volEntry, ok := s.rr.Volumes.Get(snap.SourceVolume); ok {
		volEntry.Update(func(v *types.Volume) {
			v.SnapshotIDs = removeString(v.SnapshotIDs, snapshotID)
		})
	}
	s.notify(events.KindDelete, "snapshot", snapshotID)
	return nil
}

func (s *Service) replicasOf(volumeID string) []string {
	volEntry, ok := s.rr.Volumes.Get(volumeID)
	if !ok {
		return nil
	}
	return volEntry.Clone().ReplicaIDs
}

func (s *Service) destroySnapshotOnReplica(ctx context.Context, replicaID, snapshotID string) error {
	rEntry, ok := s.rr.Replicas.Get(replicaID)
	if !ok {
		return nil
	}
	replica := rEntry.Clone()

	client, err := s.dispatcher.For(ctx, replica.Node)
	if err != nil {
		return err
	}
	return client.Replica.DestroySnapshot(ctx, nodeclient.DestroyReplicaSnapshotRequest{ReplicaID: replicaID, SnapshotID: snapshotID})
}
