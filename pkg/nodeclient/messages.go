package nodeclient

import "github.com/cuemby/corectl/pkg/types"

// RegisterRequest is sent by a node agent on startup; the core also
// calls Enumerate to reconcile its view against what the node reports.
type RegisterRequest struct {
	NodeID       string            `json:"node_id"`
	Endpoint     string            `json:"endpoint"`
	Labels       map[string]string `json:"labels"`
	APIVersion   string            `json:"api_version"`
}

// EnumerateResult is the node's self-reported inventory, used to
// detect drift between RR and the data plane.
type EnumerateResult struct {
	Pools    []PoolState    `json:"pools"`
	Replicas []ReplicaState `json:"replicas"`
	Nexuses  []NexusState   `json:"nexuses"`
}

type PoolState struct {
	ID          string   `json:"id"`
	Disks       []string `json:"disks"`
	Capacity    uint64   `json:"capacity_bytes"`
	Used        uint64   `json:"used_bytes"`
}

type ReplicaState struct {
	ID        string `json:"id"`
	Pool      string `json:"pool"`
	SizeBytes uint64 `json:"size_bytes"`
	URI       string `json:"uri"`
}

type NexusState struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
	Healthy  bool     `json:"healthy"`
}

// CreatePoolRequest/CreatePoolResult parallel types.Pool.
type CreatePoolRequest struct {
	PoolID string   `json:"pool_id"`
	Disks  []string `json:"disks"`
}

type CreatePoolResult struct {
	Pool PoolState `json:"pool"`
}

type DestroyPoolRequest struct {
	PoolID string `json:"pool_id"`
}

// CreateReplicaRequest/CreateReplicaResult parallel types.Replica.
type CreateReplicaRequest struct {
	ReplicaID string `json:"replica_id"`
	PoolID    string `json:"pool_id"`
	SizeBytes uint64 `json:"size_bytes"`
	Thin      bool   `json:"thin"`
}

type CreateReplicaResult struct {
	Replica ReplicaState `json:"replica"`
}

type DestroyReplicaRequest struct {
	ReplicaID string `json:"replica_id"`
	PoolID    string `json:"pool_id"`
}

type ShareReplicaRequest struct {
	ReplicaID    string                      `json:"replica_id"`
	Protocol     types.ReplicaShareProtocol `json:"protocol"`
	AllowedHosts []string                    `json:"allowed_hosts"`
}

type ShareReplicaResult struct {
	URI string `json:"uri"`
}

type UnshareReplicaRequest struct {
	ReplicaID string `json:"replica_id"`
}

// CreateReplicaSnapshotRequest/Result parallel types.VolumeSnapshot's
// per-replica fan-out (§4.5.6).
type CreateReplicaSnapshotRequest struct {
	ReplicaID  string `json:"replica_id"`
	SnapshotID string `json:"snapshot_id"`
}

type CreateReplicaSnapshotResult struct {
	SnapshotID string `json:"snapshot_id"`
	SizeBytes  uint64 `json:"size_bytes"`
}

type DestroyReplicaSnapshotRequest struct {
	ReplicaID  string `json:"replica_id"`
	SnapshotID string `json:"snapshot_id"`
}

// CreateNexusRequest/CreateNexusResult parallel types.Nexus.
type CreateNexusRequest struct {
	NexusID   string   `json:"nexus_id"`
	SizeBytes uint64   `json:"size_bytes"`
	Children  []string `json:"children"` // replica URIs
}

type CreateNexusResult struct {
	Nexus NexusState `json:"nexus"`
}

type DestroyNexusRequest struct {
	NexusID string `json:"nexus_id"`
}

type PublishNexusRequest struct {
	NexusID      string                      `json:"nexus_id"`
	Protocol     types.ReplicaShareProtocol `json:"protocol"`
	AllowedHosts []string                    `json:"allowed_hosts"`
}

type PublishNexusResult struct {
	URI string `json:"uri"`
}

type UnpublishNexusRequest struct {
	NexusID string `json:"nexus_id"`
}

type AddChildRequest struct {
	NexusID   string `json:"nexus_id"`
	ChildURI  string `json:"child_uri"`
}

type RemoveChildRequest struct {
	NexusID  string `json:"nexus_id"`
	ChildURI string `json:"child_uri"`
}

type ShutdownNexusRequest struct {
	NexusID string `json:"nexus_id"`
}

// Ack is the empty-body result for RPCs whose only interesting outcome
// is success/failure (the gRPC status code carries the error).
type Ack struct{}
