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
	"github.com/google/uuid"
)

// ReuseMode selects how republish treats a still-healthy existing
// target, mirroring the front end's republish request options (§4.5.3).
type ReuseMode int

const (
	// ReuseNever always moves the target to a new node.
	ReuseNever ReuseMode = iota
	// ReuseExisting keeps the current nexus whenever it is still viable.
	ReuseExisting
	// ReuseExistingFallback prefers a new target, but falls back to the
	// existing one if no new-target capacity is available.
	ReuseExistingFallback
)

// RepublishRequest is the front-end republish-volume request (§6).
type RepublishRequest struct {
	VolumeID      string
	FrontendNode  string // NQN that must already be in the allowed-hosts list
	ShareProtocol types.ReplicaShareProtocol
	Reuse         ReuseMode
}

// Republish runs the supervised target-move workflow (§4.5.3). It is
// only permitted while the volume is currently published.
func (s *Service) Republish(ctx context.Context, req RepublishRequest) (result types.Volume, err error) {
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
	defer s.observeWorkflow("volume.republish", start, &err)

	vol := entry.Clone()
	if vol.Target == nil {
		return vol, corerrors.New(corerrors.PendingCreation, "volume", req.VolumeID).Withf("republish requires a published volume")
	}
	if !containsHost(vol.Target.AllowedHosts, req.FrontendNode) {
		return vol, errFrontendNodeNotAllowed(req.VolumeID)
	}

	currentNexusEntry, hasNexus := s.rr.Nexuses.Get(vol.Target.NexusID)
	if hasNexus {
		currentNexus := currentNexusEntry.Clone()
		wantsReuse := req.Reuse == ReuseExisting || req.Reuse == ReuseExistingFallback
		if wantsReuse && !currentNexus.Shutdown && s.nodeHasEnoughHealthyReplicas(currentNexus, vol.ReplicaIDs) {
			if s.missingNexusRecreate(ctx, currentNexusEntry, currentNexus) == nil {
				return vol, nil
			}
		}
	}

	if req.Reuse == ReuseExistingFallback {
		if _, hasCapacity := s.scheduler.TargetNode(vol); !hasCapacity {
			return vol, nil // no new-target capacity: stay on the existing target
		}
	}

	nodeID, hasCapacity := s.scheduler.TargetNode(vol)
	if !hasCapacity {
		return vol, corerrors.New(corerrors.NotEnoughResources, "volume", req.VolumeID)
	}

	oldNexusID := vol.Target.NexusID
	oldNodeID := vol.Target.Node
	if hasNexus {
		s.shutdownNexusBestEffort(ctx, oldNexusID, oldNodeID)
	}

	newNexusID := uuid.NewString()
	newTarget := types.TargetConfig{
		NexusID:      newNexusID,
		Node:         nodeID,
		Protocol:     req.ShareProtocol,
		AllowedHosts: vol.Target.AllowedHosts,
	}

	clone, startErr := txn.UpdateStart[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID,
		txn.DefaultAllowedStatuses,
		func(v *types.Volume) (bool, error) {
			v.SetTxnPending(&types.PendingOperation{
				Kind:      types.OpUpdate,
				Name:      "Republish",
				Request:   newTarget,
				StartedAt: time.Now(),
			})
			return true, nil
		})
	if startErr != nil {
		return clone, startErr
	}

	childURIs := make([]string, 0, len(vol.ReplicaIDs))
	for _, replicaID := range vol.ReplicaIDs {
		if rEntry, ok := s.rr.Replicas.Get(replicaID); ok {
			childURIs = append(childURIs, rEntry.Clone().URI)
		}
	}

	createErr := s.createNexus(ctx, newNexusID, nodeID, req.VolumeID, vol.SizeBytes, childURIs)
	if validateErr := txn.ValidateStep[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID, createErr); validateErr != nil {
		return entry.Clone(), validateErr
	}

	if shareErr := s.shareNexus(ctx, newNexusID, nodeID, req.ShareProtocol, vol.Target.AllowedHosts); shareErr != nil {
		_ = s.destroyNexusBestEffort(ctx, newNexusID, nodeID)
		if validateErr := txn.ValidateStep[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID, shareErr); validateErr != nil {
			return entry.Clone(), validateErr
		}
		return entry.Clone(), shareErr
	}

	result, err = txn.UpdateComplete[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.VolumeID,
		txn.Ok[types.Volume](func(v *types.Volume) {
			v.Target = &newTarget
		}), true, true)
	if err != nil {
		return result, err
	}

	s.deleteNexusInfo(ctx, req.VolumeID, oldNexusID)
	if hasNexus {
		if destroyErr := s.destroyOwnedNexus(ctx, currentNexusEntry, currentNexusEntry.Clone()); destroyErr != nil {
			s.logger.Warn().Err(destroyErr).Str("nexus", oldNexusID).Msg("republish: old nexus destroy failed")
		}
	}
	s.notify(events.KindPut, "volume", req.VolumeID)
	return result, nil
}

// nodeHasEnoughHealthyReplicas reports whether the current nexus's
// node can still see enough healthy replica children to keep serving
// without a move.
func (s *Service) nodeHasEnoughHealthyReplicas(nexus types.Nexus, replicaIDs []string) bool {
	healthy := 0
	for _, child := range nexus.Children {
		if child.Healthy {
			healthy++
		}
	}
	return healthy >= len(replicaIDs) && healthy > 0
}

// missingNexusRecreate re-adds any replica children the nexus is
// currently missing, so a no-move republish still heals a nexus that
// lost a child without tearing the whole target down.
func (s *Service) missingNexusRecreate(ctx context.Context, entry *registry.Locked[types.Nexus], nexus types.Nexus) error {
	client, err := s.dispatcher.For(ctx, nexus.Node)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(nexus.Children))
	for _, child := range nexus.Children {
		have[child.URI] = true
	}

	var addErr error
	entry.Update(func(n *types.Nexus) {
		for i, child := range n.Children {
			if child.Healthy {
				continue
			}
			if err := client.Nexus.AddChild(ctx, nodeclient.AddChildRequest{NexusID: n.ID, ChildURI: child.URI}); err != nil {
				addErr = err
				continue
			}
			n.Children[i].Healthy = true
		}
	})
	return addErr
}

func (s *Service) shutdownNexusBestEffort(ctx context.Context, nexusID, nodeID string) {
	client, err := s.dispatcher.For(ctx, nodeID)
	if err != nil {
		return
	}
	if shutdownErr := client.Nexus.Shutdown(ctx, nodeclient.ShutdownNexusRequest{NexusID: nexusID}); shutdownErr != nil {
		s.logger.Warn().Err(shutdownErr).Str("nexus", nexusID).Msg("republish: best-effort nexus shutdown failed")
	}
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}
