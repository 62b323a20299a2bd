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
)

// CreatePoolRequest is the front-end create-pool request. Unlike
// replica/nexus placement, a pool's node and disks are operator-chosen
// rather than scheduler-picked, mirroring the REST pools endpoint.
type CreatePoolRequest struct {
	PoolID string
	NodeID string
	Disks  []string
	Labels map[string]string
}

// CreatePool runs the standalone pool-create workflow.
func (s *Service) CreatePool(ctx context.Context, req CreatePoolRequest) (result types.Pool, err error) {
	if req.PoolID == "" || req.NodeID == "" || len(req.Disks) == 0 {
		return types.Pool{}, errInvalidArguments("pool", req.PoolID, "pool_id, node_id, and at least one disk are required")
	}

	start := time.Now()
	defer s.observeWorkflow("pool.create", start, &err)

	entry := s.rr.Pools.Insert(req.PoolID, types.Pool{ID: req.PoolID})
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return types.Pool{}, corerrors.New(corerrors.Busy, "pool", req.PoolID)
	}
	defer g.Release()

	nodeReq := nodeclient.CreatePoolRequest{PoolID: req.PoolID, Disks: req.Disks}
	clone, startErr := txn.CreateStart[types.Pool, *types.Pool](entry, "pool", req.PoolID, nodeReq)
	if startErr != nil {
		return clone, startErr
	}
	if persistErr := txn.PersistIntent[types.Pool, *types.Pool](ctx, s.store, entry, "pool", req.PoolID, clone); persistErr != nil {
		s.rr.Pools.Remove(req.PoolID)
		return clone, persistErr
	}

	client, err := s.dispatcher.For(ctx, req.NodeID)
	var nodeResult txn.Result[types.Pool]
	if err != nil {
		nodeResult = txn.Failed[types.Pool](err)
	} else if _, rpcErr := client.Pool.Create(ctx, nodeReq); rpcErr != nil {
		nodeResult = txn.Failed[types.Pool](rpcErr)
	} else {
		nodeResult = txn.Ok[types.Pool](func(p *types.Pool) {
			p.Node = req.NodeID
			p.Disks = req.Disks
			p.Labels = req.Labels
		})
	}

	result, err = txn.CreateComplete[types.Pool, *types.Pool](ctx, s.store, entry, "pool", req.PoolID, nodeResult,
		func(error) types.OnCreateFail { return types.OnCreateFailDelete })
	if err != nil {
		s.rr.Pools.Remove(req.PoolID)
		return result, err
	}
	s.notify(events.KindPut, "pool", req.PoolID)
	return result, nil
}

// DestroyPool destroys a pool that owns no replicas. Pools that still
// own replicas are left for the reconciler's garbage-collection sweep
// once those replicas are gone.
func (s *Service) DestroyPool(ctx context.Context, poolID string) (err error) {
	entry, ok := s.rr.Pools.Get(poolID)
	if !ok {
		return nil
	}

	start := time.Now()
	defer s.observeWorkflow("pool.destroy", start, &err)

	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return corerrors.New(corerrors.Busy, "pool", poolID)
	}
	defer g.Release()

	if s.poolHasReplicas(poolID) {
		return corerrors.New(corerrors.NotEnoughResources, "pool", poolID).Withf("pool still owns replicas")
	}

	pool := entry.Clone()
	clone, startErr := txn.DestroyStart[types.Pool, *types.Pool](entry, "pool", poolID, func(*types.Pool) bool { return true })
	if startErr != nil {
		return startErr
	}
	if persistErr := txn.PersistIntent[types.Pool, *types.Pool](ctx, s.store, entry, "pool", poolID, clone); persistErr != nil {
		return persistErr
	}

	var nodeErr error
	client, err := s.dispatcher.For(ctx, pool.Node)
	if err != nil {
		nodeErr = err
	} else {
		nodeErr = client.Pool.Destroy(ctx, nodeclient.DestroyPoolRequest{PoolID: poolID})
	}

	if err := txn.DestroyComplete[types.Pool, *types.Pool](ctx, s.store, s.rr.Pools, entry, "pool", poolID, nodeErr); err != nil {
		return err
	}
	s.notify(events.KindDelete, "pool", poolID)
	return nil
}

func (s *Service) poolHasReplicas(poolID string) bool {
	for _, entry := range s.rr.Replicas.Values() {
		if entry.Clone().Pool == poolID {
			return true
		}
	}
	return false
}

// ShareReplicaRequest is the standalone front-end share-replica
// request, used outside of a volume's nexus lifecycle (e.g. for direct
// replica inspection/debugging workflows).
type ShareReplicaRequest struct {
	ReplicaID    string
	Protocol     types.ReplicaShareProtocol
	AllowedHosts []string
}

// ShareReplica exports a replica directly over its share protocol.
func (s *Service) ShareReplica(ctx context.Context, req ShareReplicaRequest) (result types.Replica, err error) {
	entry, ok := s.rr.Replicas.Get(req.ReplicaID)
	if !ok {
		return types.Replica{}, errNotFound("replica", req.ReplicaID)
	}
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return types.Replica{}, corerrors.New(corerrors.Busy, "replica", req.ReplicaID)
	}
	defer g.Release()

	start := time.Now()
	defer s.observeWorkflow("replica.share", start, &err)

	clone, startErr := txn.UpdateStart[types.Replica, *types.Replica](ctx, s.store, entry, "replica", req.ReplicaID,
		txn.DefaultAllowedStatuses,
		func(r *types.Replica) (bool, error) { return false, nil })
	if startErr != nil {
		return clone, startErr
	}

	client, err := s.dispatcher.For(ctx, clone.Node)
	if err != nil {
		return clone, err
	}

	shareResult, shareErr := client.Replica.Share(ctx, nodeclient.ShareReplicaRequest{
		ReplicaID:    req.ReplicaID,
		Protocol:     req.Protocol,
		AllowedHosts: req.AllowedHosts,
	})
	if shareErr != nil {
		return clone, shareErr
	}

	result, err = txn.UpdateComplete[types.Replica, *types.Replica](ctx, s.store, entry, "replica", req.ReplicaID,
		txn.Ok[types.Replica](func(r *types.Replica) {
			r.Share = req.Protocol
			r.URI = shareResult.URI
		}), false, true)
	if err == nil {
		s.notify(events.KindPut, "replica", req.ReplicaID)
	}
	return result, err
}

// UnshareReplica withdraws a replica's direct export.
func (s *Service) UnshareReplica(ctx context.Context, replicaID string) (err error) {
	entry, ok := s.rr.Replicas.Get(replicaID)
	if !ok {
		return nil
	}
	g, acqErr := guard.Acquire(ctx, entry.Guard(), guard.Exclusive)
	if acqErr != nil {
		return corerrors.New(corerrors.Busy, "replica", replicaID)
	}
	defer g.Release()

	start := time.Now()
	defer s.observeWorkflow("replica.unshare", start, &err)

	clone, startErr := txn.UpdateStart[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID,
		txn.DefaultAllowedStatuses,
		func(r *types.Replica) (bool, error) { return false, nil })
	if startErr != nil {
		return startErr
	}

	client, err := s.dispatcher.For(ctx, clone.Node)
	if err != nil {
		return err
	}
	if unshareErr := client.Replica.Unshare(ctx, nodeclient.UnshareReplicaRequest{ReplicaID: replicaID}); unshareErr != nil {
		return unshareErr
	}

	_, err = txn.UpdateComplete[types.Replica, *types.Replica](ctx, s.store, entry, "replica", replicaID,
		txn.Ok[types.Replica](func(r *types.Replica) {
			r.Share = types.ShareNone
			r.URI = ""
		}), false, true)
	if err == nil {
		s.notify(events.KindPut, "replica", replicaID)
	}
	return err
}
