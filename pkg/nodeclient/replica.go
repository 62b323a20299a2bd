package nodeclient

import (
	"context"

	"google.golang.org/grpc"
)

// ReplicaAPI creates, destroys, and (un)shares replicas on a node, and
// takes/destroys the per-replica snapshots a volume-snapshot fans out to.
type ReplicaAPI interface {
	Create(ctx context.Context, req CreateReplicaRequest) (CreateReplicaResult, error)
	Destroy(ctx context.Context, req DestroyReplicaRequest) error
	Share(ctx context.Context, req ShareReplicaRequest) (ShareReplicaResult, error)
	Unshare(ctx context.Context, req UnshareReplicaRequest) error
	CreateSnapshot(ctx context.Context, req CreateReplicaSnapshotRequest) (CreateReplicaSnapshotResult, error)
	DestroySnapshot(ctx context.Context, req DestroyReplicaSnapshotRequest) error
}

type replicaV1 struct {
	conn *grpc.ClientConn
}

func (r *replicaV1) Create(ctx context.Context, req CreateReplicaRequest) (CreateReplicaResult, error) {
	var result CreateReplicaResult
	err := invoke(ctx, r.conn, "/nodeapi.v1.Replica/Create", &req, &result)
	return result, err
}

func (r *replicaV1) Destroy(ctx context.Context, req DestroyReplicaRequest) error {
	var ack Ack
	return invoke(ctx, r.conn, "/nodeapi.v1.Replica/Destroy", &req, &ack)
}

func (r *replicaV1) Share(ctx context.Context, req ShareReplicaRequest) (ShareReplicaResult, error) {
	var result ShareReplicaResult
	err := invoke(ctx, r.conn, "/nodeapi.v1.Replica/Share", &req, &result)
	return result, err
}

func (r *replicaV1) Unshare(ctx context.Context, req UnshareReplicaRequest) error {
	var ack Ack
	return invoke(ctx, r.conn, "/nodeapi.v1.Replica/Unshare", &req, &ack)
}

func (r *replicaV1) CreateSnapshot(ctx context.Context, req CreateReplicaSnapshotRequest) (CreateReplicaSnapshotResult, error) {
	var result CreateReplicaSnapshotResult
	err := invoke(ctx, r.conn, "/nodeapi.v1.Replica/CreateSnapshot", &req, &result)
	return result, err
}

func (r *replicaV1) DestroySnapshot(ctx context.Context, req DestroyReplicaSnapshotRequest) error {
	var ack Ack
	return invoke(ctx, r.conn, "/nodeapi.v1.Replica/DestroySnapshot", &req, &ack)
}
