package volume

import (
	"context"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/guard"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/scheduler"
	"github.com/cuemby/corectl/pkg/txn"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
)

// CreateRequest is the front-end create-volume request (§6).
type CreateRequest struct {
	UUID            string
	Name            string
	SizeBytes       uint64
	ReplicaCount    int
	MaxSnapshots    int
	AffinityGroupID string
}

// Create runs the volume-create composite workflow (§4.5.1).
func (s *Service) Create(ctx context.Context, req CreateRequest) (result types.Volume, err error) {
	if req.UUID == "" || req.UUID == uuidZero {
		return types.Volume{}, errInvalidArguments("volume", req.UUID, "uuid must be non-default")
	}

	release, err := s.acquireCreatePermit(ctx)
	if err != nil {
		return types.Volume{}, err
	}
	defer release()

	start := time.Now()
	defer s.observeWorkflow("volume.create", start, &err)

	entry := s.rr.Volumes.Insert(req.UUID, types.Volume{ID: req.UUID})
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return types.Volume{}, corerrors.New(corerrors.Busy, "volume", req.UUID)
	}
	defer g.Release()

	clone, startErr := txn.CreateStart[types.Volume, *types.Volume](entry, "volume", req.UUID, req)
	if startErr != nil {
		return clone, startErr
	}

	if persistErr := txn.PersistIntent[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.UUID, clone); persistErr != nil {
		return clone, persistErr
	}
	s.notify(events.KindPut, "volume", req.UUID)

	// Ask for one candidate per node, not just ReplicaCount, so a failed
	// candidate can be replaced by the next one.
	want := req.ReplicaCount
	if n := s.rr.Nodes.Len(); n > want {
		want = n
	}
	candidates := s.scheduler.ReplicaCandidates(want, req.SizeBytes, nil)
	if len(candidates) == 0 {
		// No side effects possible: nothing was ever created.
		committed, _ := txn.CreateComplete[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.UUID,
			txn.Failed[types.Volume](errReplicaCreateNumber(req.UUID)),
			func(error) types.OnCreateFail { return types.OnCreateFailDelete })
		s.rr.Volumes.Remove(req.UUID)
		return committed, errReplicaCreateNumber(req.UUID)
	}

	created := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if len(created) >= req.ReplicaCount {
			break
		}
		share := types.ShareNVMf
		if len(created) == 0 {
			share = types.ShareNone
		}

		replicaID, createErr := s.createReplicaOnCandidate(ctx, candidate, req.SizeBytes, share)
		if createErr != nil {
			s.logger.Warn().Err(createErr).Str("node", candidate.NodeID).Msg("replica create failed during volume create")
			continue
		}
		created = append(created, replicaID)
		if rEntry, ok := s.rr.Replicas.Get(replicaID); ok {
			rEntry.Update(func(r *types.Replica) { r.Owners.Volume = req.UUID })
			if putErr := txn.PersistIntent[types.Replica, *types.Replica](ctx, s.store, rEntry, "replica", replicaID, rEntry.Clone()); putErr != nil {
				s.logger.Warn().Err(putErr).Str("replica", replicaID).Msg("failed to persist replica volume owner")
			}
		}
	}

	if len(created) < req.ReplicaCount {
		for _, replicaID := range created {
			_ = s.destroyReplicaDisownAll(ctx, replicaID)
		}
		committed, _ := txn.CreateComplete[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.UUID,
			txn.Failed[types.Volume](errReplicaCreateNumber(req.UUID)),
			func(error) types.OnCreateFail { return types.OnCreateFailDelete })
		s.rr.Volumes.Remove(req.UUID)
		return committed, errReplicaCreateNumber(req.UUID)
	}

	result, err = txn.CreateComplete[types.Volume, *types.Volume](ctx, s.store, entry, "volume", req.UUID,
		txn.Ok[types.Volume](func(v *types.Volume) {
			v.Name = req.Name
			v.SizeBytes = req.SizeBytes
			v.ReplicaCount = req.ReplicaCount
			v.ReplicaIDs = created
			v.MaxSnapshots = req.MaxSnapshots
			v.AffinityGroupID = req.AffinityGroupID
		}),
		func(error) types.OnCreateFail { return types.OnCreateFailDelete },
	)
	if err == nil {
		s.notify(events.KindPut, "volume", req.UUID)
	}
	return result, err
}

const uuidZero = "00000000-0000-0000-0000-000000000000"

// createReplicaOnCandidate runs a replica through its own, narrower
// create transaction on the chosen pool/node, returning its id on
// success. It never reuses a node across the loop its caller runs,
// since candidates already come distinct-node from the scheduler.
func (s *Service) createReplicaOnCandidate(ctx context.Context, candidate scheduler.Candidate, sizeBytes uint64, share types.ReplicaShareProtocol) (string, error) {
	replicaID := uuid.NewString()
	entry := s.rr.Replicas.Insert(replicaID, types.Replica{ID: replicaID})

	req := nodeclient.CreateReplicaRequest{ReplicaID: replicaID, PoolID: candidate.PoolID, SizeBytes: sizeBytes}
	clone, err := txn.CreateStart[types.Replica, *types.Replica](entry, "replica", replicaID, req)
	if err != nil {
		s.rr.Replicas.Remove(replicaID)
		return "", err
	}
	if err := txn.PersistIntent[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID, clone); err != nil {
		s.rr.Replicas.Remove(replicaID)
		return "", err
	}

	client, err := s.dispatcher.For(ctx, candidate.NodeID)
	if err != nil {
		_, _ = txn.CreateComplete[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID,
			txn.Failed[types.Replica](err), txn.DefaultOnCreateFail)
		s.rr.Replicas.Remove(replicaID)
		return "", err
	}

	created, rpcErr := client.Replica.Create(ctx, req)
	result := txn.Ok[types.Replica](func(r *types.Replica) {
		r.Pool = candidate.PoolID
		r.Node = candidate.NodeID
		r.SizeBytes = sizeBytes
		r.Share = share
		r.URI = created.Replica.URI
	})
	if rpcErr != nil {
		result = txn.Failed[types.Replica](rpcErr)
	}

	committed, err := txn.CreateComplete[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID, result, txn.DefaultOnCreateFail)
	if err != nil {
		s.rr.Replicas.Remove(replicaID)
		return "", err
	}
	return committed.ID, nil
}

// destroyReplicaDisownAll destroys a replica created mid-create after
// a short create fails the replication-factor check (§4.5.1 step 5).
func (s *Service) destroyReplicaDisownAll(ctx context.Context, replicaID string) error {
	entry, ok := s.rr.Replicas.Get(replicaID)
	if !ok {
		return nil
	}

	clone, err := txn.DestroyStart[types.Replica, *types.Replica](entry, "replica", replicaID, func(r *types.Replica) bool {
		r.Owners = types.ReplicaOwners{}
		return true
	})
	if err != nil {
		return err
	}
	if err := txn.PersistIntent[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID, clone); err != nil {
		return err
	}

	client, err := s.dispatcher.For(ctx, clone.Node)
	var nodeErr error
	if err != nil {
		nodeErr = err
	} else {
		nodeErr = client.Replica.Destroy(ctx, nodeclient.DestroyReplicaRequest{ReplicaID: replicaID, PoolID: clone.Pool})
	}

	return txn.DestroyComplete[types.Replica, *types.Replica](ctx, s.store, s.rr.Replicas, entry, "replica", replicaID, nodeErr)
}
