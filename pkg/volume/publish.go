package volume

import (
	"context"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/guard"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/txn"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
)

// PublishRequest is the front-end publish-volume request (§6).
type PublishRequest struct {
	VolumeID      string
	ShareProtocol types.ReplicaShareProtocol
	AllowedHosts  []string
}

// Publish runs the volume-publish composite workflow (§4.5.2).
func (s *Service) Publish(ctx context.Context, req PublishRequest) (result types.Volume, err error) {
	entry, ok := s.rr.Volumes.Get(req.VolumeID)
	if !ok {
		return types.Volume{}, errNotFound("volume", req.VolumeID)
	}
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return types.Volume{}, corerrors.New(corerrors.Busy, "volume", req.VolumeID)
	}
	defer g.Release()

	start := time.Now()
	defer s.observeWorkflow("volume.publish", start, &err)

	vol := entry.Clone()
	nodeID, ok := s.scheduler.TargetNode(vol)
	if !ok {
		return vol, corerrors.New(corerrors.NotEnoughResources, "volume", req.VolumeID)
	}

	nexusID := uuid.NewString()
	target := types.TargetConfig{
		NexusID:      nexusID,
		Node:         nodeID,
		Protocol:     req.ShareProtocol,
		AllowedHosts: req.AllowedHosts,
	}
	lastTarget := vol.Target

	clone, startErr := txn.UpdateStart[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID,
		txn.DefaultAllowedStatuses,
		func(v *types.Volume) (bool, error) {
			v.SetTxnPending(&types.PendingOperation{
				Kind:      types.OpUpdate,
				Name:      "Publish",
				Request:   target,
				StartedAt: time.Now(),
			})
			return true, nil
		})
	if startErr != nil {
		return clone, startErr
	}

	childURIs := make([]string, 0, len(vol.ReplicaIDs))
	for _, replicaID := range vol.ReplicaIDs {
		rEntry, ok := s.rr.Replicas.Get(replicaID)
		if !ok {
			continue
		}
		childURIs = append(childURIs, rEntry.Clone().URI)
	}

	nexusErr := s.createNexus(ctx, nexusID, nodeID, req.VolumeID, vol.SizeBytes, childURIs)
	if validateErr := txn.ValidateStep[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID, nexusErr); validateErr != nil {
		return entry.Clone(), validateErr
	}

	if req.ShareProtocol != types.ShareNone && req.ShareProtocol != "" {
		if shareErr := s.shareNexus(ctx, nexusID, nodeID, req.ShareProtocol, req.AllowedHosts); shareErr != nil {
			_ = s.destroyNexusBestEffort(ctx, nexusID, nodeID)
			if validateErr := txn.ValidateStep[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID, shareErr); validateErr != nil {
				return entry.Clone(), validateErr
			}
			return entry.Clone(), shareErr
		}
	}

	result, err = txn.UpdateComplete[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID,
		txn.Ok[types.Volume](func(v *types.Volume) {
			v.Target = &target
		}), true, true)
	if err != nil {
		return result, err
	}

	if lastTarget != nil {
		s.deleteNexusInfo(ctx, req.VolumeID, lastTarget.NexusID)
	}

	s.notify(events.KindPut, "volume", req.VolumeID)
	if result.Degraded() {
		s.logger.Warn().Str("volume", req.VolumeID).Msg("volume published in a degraded state")
	}
	return result, nil
}

// createNexus runs a nexus through its own create transaction, node RPC
// included, as a helper shared by publish and republish.
func (s *Service) createNexus(ctx context.Context, nexusID, nodeID, ownerVolumeID string, sizeBytes uint64, children []string) error {
	entry := s.rr.Nexuses.Insert(nexusID, types.Nexus{ID: nexusID})

	req := nodeclient.CreateNexusRequest{NexusID: nexusID, SizeBytes: sizeBytes, Children: children}
	clone, err := txn.CreateStart[types.Nexus, *types.Nexus](entry, "nexus", nexusID, req)
	if err != nil {
		s.rr.Nexuses.Remove(nexusID)
		return err
	}
	if err := txn.PersistIntent[types.Nexus, *types.Nexus](ctx, s.store, entry, "nexus", nexusID, clone); err != nil {
		s.rr.Nexuses.Remove(nexusID)
		return err
	}

	client, err := s.dispatcher.For(ctx, nodeID)
	var result txn.Result[types.Nexus]
	var created nodeclient.CreateNexusResult
	if err != nil {
		result = txn.Failed[types.Nexus](err)
	} else {
		created, err = client.Nexus.Create(ctx, req)
		if err != nil {
			result = txn.Failed[types.Nexus](err)
		} else {
			result = txn.Ok[types.Nexus](func(n *types.Nexus) {
				n.Node = nodeID
				n.Owner = ownerVolumeID
				for _, uri := range created.Nexus.Children {
					n.Children = append(n.Children, types.NexusChild{URI: uri, Healthy: true})
				}
			})
		}
	}

	_, err = txn.CreateComplete[types.Nexus, *types.Nexus](ctx, s.store, entry, "nexus", nexusID, result, txn.DefaultOnCreateFail)
	if err != nil {
		s.rr.Nexuses.Remove(nexusID)
	}
	return err
}

// shareNexus shares a nexus with the computed allowed-hosts list.
func (s *Service) shareNexus(ctx context.Context, nexusID, nodeID string, protocol types.ReplicaShareProtocol, allowedHosts []string) error {
	client, err := s.dispatcher.For(ctx, nodeID)
	if err != nil {
		return err
	}
	_, err = client.Nexus.Publish(ctx, nodeclient.PublishNexusRequest{
		NexusID:      nexusID,
		Protocol:     protocol,
		AllowedHosts: allowedHosts,
	})
	return err
}

// destroyNexusBestEffort tears down a nexus inline after a failed
// share (§4.5.2 step 4); failures are absorbed, matching the spec's
// "best-effort" wording since the caller already has an error to surface.
func (s *Service) destroyNexusBestEffort(ctx context.Context, nexusID, nodeID string) error {
	client, err := s.dispatcher.For(ctx, nodeID)
	if err != nil {
		return err
	}
	return client.Nexus.Destroy(ctx, nodeclient.DestroyNexusRequest{NexusID: nexusID})
}

// deleteNexusInfo removes the per-nexus info entry the data-plane
// persists out of band, keyed by volume+nexus. Best-effort: a failed
// delete here does not block the owning workflow, matching the
// original's "delete the persisted NexusInfo structure" fire-and-forget.
func (s *Service) deleteNexusInfo(ctx context.Context, volumeID, nexusID string) {
	if nexusID == "" {
		return
	}
	key := store.Key("nexus_info", volumeID+"/"+nexusID)
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("nexus", nexusID).Msg("failed to delete nexus info entry")
	}
}
