// Package types defines the persisted resource specs the core operates
// over: nodes, pools, replicas, nexuses, volumes, snapshots, and the
// bookkeeping (status, pending operation, dirty marker) that the
// transactional operation engine attaches to every spec.
package types

import (
	"time"
)

// SpecStatus is the lifecycle state of a spec. It follows the DAG
// Creating -> Created -> Deleting -> Deleted, with a rollback edge
// Creating -> Deleting. No other transition is observable.
type SpecStatus string

const (
	Creating SpecStatus = "Creating"
	Created  SpecStatus = "Created"
	Deleting SpecStatus = "Deleting"
	Deleted  SpecStatus = "Deleted"
)

// OpKind names the three composite TOE protocols.
type OpKind string

const (
	OpCreate  OpKind = "create"
	OpUpdate  OpKind = "update"
	OpDestroy OpKind = "destroy"
)

// PendingOperation is the intent-log record attached to a spec while a
// composite workflow is mid-flight. It is persisted alongside the spec
// (not a side table) so a crash leaves enough information in PSC for
// the reconciler to resume. OpResult distinguishes the three crash
// points described in the TOE create/update protocol:
//
//	nil        -> no ACK has arrived yet (crash before the RPC answered)
//	true (ptr) -> the node-side effect succeeded, commit write may be lost
//	false(ptr) -> the node-side effect failed, rollback write may be lost
type PendingOperation struct {
	Kind      OpKind      `json:"kind"`
	Name      string      `json:"name"` // e.g. "Publish", "SetReplica"
	Request   interface{} `json:"request"`
	OpResult  *bool       `json:"op_result"`
	StartedAt time.Time   `json:"started_at"`
}

// HasResult reports whether the ACK for this pending op has arrived.
func (p *PendingOperation) HasResult() bool {
	return p != nil && p.OpResult != nil
}

// OnCreateFail selects how a create-protocol node-side failure is
// handled. See TOE §4.4.
type OnCreateFail int

const (
	// OnCreateFailLeaveAsIs clears the pending op and leaves the spec in
	// Creating so the caller can retry the same request.
	OnCreateFailLeaveAsIs OnCreateFail = iota
	// OnCreateFailSetDeleting transitions the spec to Deleting; the
	// reconciler's garbage collector reclaims any side effects that did land.
	OnCreateFailSetDeleting
	// OnCreateFailDelete removes the spec outright. Only safe when no
	// side effects could possibly have landed (pre-first-RPC failures).
	OnCreateFailDelete
)

// Node is a storage-node agent the core dispatches RPCs to. Nodes are
// created on register RPC and never destroyed; the endpoint is mutable.
type Node struct {
	ID        string            `json:"id"`
	Endpoint  string            `json:"endpoint"`
	Labels    map[string]string `json:"labels"`
	Status    SpecStatus        `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Pool is a storage pool on a single node backing replicas.
type Pool struct {
	ID        string            `json:"id"`
	Node      string            `json:"node"`
	Disks     []string          `json:"disks"`
	Labels    map[string]string `json:"labels"`
	Status    SpecStatus        `json:"status"`
	Pending   *PendingOperation `json:"pending,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ReplicaShareProtocol is the wire protocol a replica is exported with.
type ReplicaShareProtocol string

const (
	// ShareNone addresses the replica only via in-process device, used
	// for the replica co-located with its volume's nexus.
	ShareNone ReplicaShareProtocol = "none"
	ShareNVMf ReplicaShareProtocol = "nvmf"
)

// ReplicaOwners is the owning-id set that drives a replica's deletion
// admissibility. A replica may be owned by at most one volume and
// additionally referenced by any number of nexuses.
type ReplicaOwners struct {
	Volume  string   `json:"volume,omitempty"`
	Nexuses []string `json:"nexuses,omitempty"`
}

// Empty reports whether no owner references this replica anymore.
func (o ReplicaOwners) Empty() bool {
	return o.Volume == "" && len(o.Nexuses) == 0
}

// Replica is a piece of persistent capacity on a pool; a volume's data unit.
type Replica struct {
	ID        string               `json:"id"`
	Pool      string               `json:"pool"`
	Node      string               `json:"node"`
	SizeBytes uint64               `json:"size_bytes"`
	Thin      bool                 `json:"thin"`
	Share     ReplicaShareProtocol `json:"share"`
	URI       string               `json:"uri"`
	Owners    ReplicaOwners        `json:"owners"`
	Status    SpecStatus           `json:"status"`
	Pending   *PendingOperation    `json:"pending,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// NexusChild is one replica URI attached to a nexus.
type NexusChild struct {
	URI     string `json:"uri"`
	Healthy bool   `json:"healthy"`
}

// Nexus is a network-accessible aggregate of one or more replicas,
// serving as a volume's target. Nexuses are transient: created on
// publish, destroyed on unpublish/republish.
type Nexus struct {
	ID           string               `json:"id"`
	Node         string               `json:"node"`
	Children     []NexusChild         `json:"children"`
	Share        ReplicaShareProtocol `json:"share"`
	AllowedHosts []string             `json:"allowed_hosts,omitempty"`
	Owner        string               `json:"owner,omitempty"` // owning volume id, optional
	Shutdown     bool                 `json:"shutdown"`
	Status       SpecStatus           `json:"status"`
	Pending      *PendingOperation    `json:"pending,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// TargetConfig is the address/protocol/allowed-hosts triple computed for
// a volume's nexus at publish time.
type TargetConfig struct {
	NexusID      string               `json:"nexus_id"`
	Node         string               `json:"node"`
	Protocol     ReplicaShareProtocol `json:"protocol"`
	AllowedHosts []string             `json:"allowed_hosts"`
}

// ContentSourceKind distinguishes an empty volume from one restored
// from a snapshot.
type ContentSourceKind string

const (
	ContentSourceNone     ContentSourceKind = "none"
	ContentSourceSnapshot ContentSourceKind = "snapshot"
)

// ContentSource is the volume's data origin.
type ContentSource struct {
	Kind       ContentSourceKind `json:"kind"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
}

// Volume is the top-level user object: references a set of replicas and
// at most one active nexus.
type Volume struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	SizeBytes       uint64            `json:"size_bytes"`
	ReplicaCount    int               `json:"replica_count"`
	ReplicaIDs      []string          `json:"replica_ids"`
	Target          *TargetConfig     `json:"target,omitempty"`
	ContentSource   ContentSource     `json:"content_source"`
	AffinityGroupID string            `json:"affinity_group_id,omitempty"`
	MaxSnapshots    int               `json:"max_snapshots"`
	SnapshotIDs     []string          `json:"snapshot_ids,omitempty"`
	Status          SpecStatus        `json:"status"`
	Pending         *PendingOperation `json:"pending,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Degraded reports whether the volume lists fewer replicas than its
// replication factor calls for; replica health is not consulted.
// Publish logs a warning when it is true; the reconciler is not
// notified.
func (v *Volume) Degraded() bool {
	return len(v.ReplicaIDs) < v.ReplicaCount
}

// VolumeSnapshot is bounded per-volume by Volume.MaxSnapshots.
type VolumeSnapshot struct {
	ID           string            `json:"id"`
	SourceVolume string            `json:"source_volume"`
	RestoredBy   []string          `json:"restored_by,omitempty"` // volumes whose content-source is this snapshot
	Status       SpecStatus        `json:"status"`
	Pending      *PendingOperation `json:"pending,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AffinityGroup is derived from volumes sharing an AffinityGroupID; it
// is never persisted on its own.
type AffinityGroup struct {
	ID        string   `json:"id"`
	VolumeIDs []string `json:"volume_ids"`
}

// FilterKind selects which fields of a Filter are set, mirroring the
// front-end API's list filters (§6): None, Node, Pool, NodePool,
// PoolReplica, Volume, Snapshot, VolumeSnapshot.
type FilterKind string

const (
	FilterNone          FilterKind = "none"
	FilterNode          FilterKind = "node"
	FilterPool          FilterKind = "pool"
	FilterNodePool      FilterKind = "node_pool"
	FilterPoolReplica   FilterKind = "pool_replica"
	FilterVolume        FilterKind = "volume"
	FilterSnapshot      FilterKind = "snapshot"
	FilterVolumeSnapshot FilterKind = "volume_snapshot"
)

// Filter scopes a list operation to a single node, pool, replica,
// volume, or snapshot (or a pairing of those), or passes everything
// through (FilterNone). Only the fields relevant to Kind are read.
type Filter struct {
	Kind       FilterKind `json:"kind"`
	NodeID     string     `json:"node_id,omitempty"`
	PoolID     string     `json:"pool_id,omitempty"`
	ReplicaID  string     `json:"replica_id,omitempty"`
	VolumeID   string     `json:"volume_id,omitempty"`
	SnapshotID string     `json:"snapshot_id,omitempty"`
}

// MatchesPool reports whether p passes this filter. Kinds that do not
// constrain pools (Volume, Snapshot, VolumeSnapshot, PoolReplica) pass
// everything through for this entity kind.
func (f Filter) MatchesPool(p Pool) bool {
	switch f.Kind {
	case FilterNode:
		return p.Node == f.NodeID
	case FilterPool:
		return p.ID == f.PoolID
	default:
		return true
	}
}

// MatchesReplica reports whether r passes this filter.
func (f Filter) MatchesReplica(r Replica) bool {
	switch f.Kind {
	case FilterNode:
		return r.Node == f.NodeID
	case FilterPool:
		return r.Pool == f.PoolID
	case FilterNodePool:
		return r.Node == f.NodeID && r.Pool == f.PoolID
	case FilterPoolReplica:
		return r.Pool == f.PoolID && r.ID == f.ReplicaID
	case FilterVolume:
		return r.Owners.Volume == f.VolumeID
	default:
		return true
	}
}

// MatchesVolume reports whether v passes this filter.
func (f Filter) MatchesVolume(v Volume) bool {
	switch f.Kind {
	case FilterVolume:
		return v.ID == f.VolumeID
	case FilterSnapshot:
		return v.ContentSource.SnapshotID == f.SnapshotID
	default:
		return true
	}
}

// MatchesSnapshot reports whether s passes this filter.
func (f Filter) MatchesSnapshot(s VolumeSnapshot) bool {
	switch f.Kind {
	case FilterSnapshot:
		return s.ID == f.SnapshotID
	case FilterVolume, FilterVolumeSnapshot:
		return s.SourceVolume == f.VolumeID
	default:
		return true
	}
}

// AppNode is an application-facing host allowed to access published
// volumes (the "frontend node" of the publish/republish flow).
type AppNode struct {
	ID       string `json:"id"`
	NQN      string `json:"nqn"`
	Endpoint string `json:"endpoint"`
}

// TxnSpec is implemented by every resource kind the Transactional
// Operation Engine drives through the create/update/destroy protocol.
// Node and AppNode do not implement it: nodes are created on register
// RPC and never destroyed, so they never carry a pending op.
type TxnSpec interface {
	TxnStatus() SpecStatus
	SetTxnStatus(SpecStatus)
	TxnPending() *PendingOperation
	SetTxnPending(*PendingOperation)
}

func (p *Pool) TxnStatus() SpecStatus             { return p.Status }
func (p *Pool) SetTxnStatus(s SpecStatus)         { p.Status = s }
func (p *Pool) TxnPending() *PendingOperation     { return p.Pending }
func (p *Pool) SetTxnPending(op *PendingOperation) { p.Pending = op }

func (r *Replica) TxnStatus() SpecStatus             { return r.Status }
func (r *Replica) SetTxnStatus(s SpecStatus)         { r.Status = s }
func (r *Replica) TxnPending() *PendingOperation     { return r.Pending }
func (r *Replica) SetTxnPending(op *PendingOperation) { r.Pending = op }

func (n *Nexus) TxnStatus() SpecStatus             { return n.Status }
func (n *Nexus) SetTxnStatus(s SpecStatus)         { n.Status = s }
func (n *Nexus) TxnPending() *PendingOperation     { return n.Pending }
func (n *Nexus) SetTxnPending(op *PendingOperation) { n.Pending = op }

func (v *Volume) TxnStatus() SpecStatus             { return v.Status }
func (v *Volume) SetTxnStatus(s SpecStatus)         { v.Status = s }
func (v *Volume) TxnPending() *PendingOperation     { return v.Pending }
func (v *Volume) SetTxnPending(op *PendingOperation) { v.Pending = op }

func (s *VolumeSnapshot) TxnStatus() SpecStatus             { return s.Status }
func (s *VolumeSnapshot) SetTxnStatus(v SpecStatus)         { s.Status = v }
func (s *VolumeSnapshot) TxnPending() *PendingOperation     { return s.Pending }
func (s *VolumeSnapshot) SetTxnPending(op *PendingOperation) { s.Pending = op }
