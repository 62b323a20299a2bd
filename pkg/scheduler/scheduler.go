// Package scheduler is the pool-placement oracle composite workflows
// treat as a black box (§4.5.1): given the current resource registry,
// pick which pools should host a new volume's replicas, and which
// existing pool should host a move-replica's destination. Placement
// itself is out of scope for the protocol the spec defines; this
// package implements the simplest policy the corpus shows for the
// analogous container-placement problem (load balance by current
// occupancy, never double up on one node) and generalizes it to pools.
package scheduler

import (
	"sort"

	"github.com/cuemby/corectl/pkg/log"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/rs/zerolog"
)

// Candidate is one pool eligible to host a replica.
type Candidate struct {
	PoolID    string
	NodeID    string
	FreeBytes uint64
}

// Scheduler selects pool candidates for replica placement from the
// current registry snapshot.
type Scheduler struct {
	rr     *registry.Registries
	logger zerolog.Logger
}

// New builds a Scheduler bound to the given registries.
func New(rr *registry.Registries) *Scheduler {
	return &Scheduler{rr: rr, logger: log.WithComponent("scheduler")}
}

// ReplicaCandidates returns up to `count` distinct-node pool candidates,
// ordered least-loaded-node first, for the create-volume replica
// placement loop (§4.5.1 step 3-4). Every Created pool qualifies: free
// capacity is not checked, and FreeBytes is set to sizeBytes. excludeNodes
// lets move-replica avoid the source replica's node.
func (s *Scheduler) ReplicaCandidates(count int, sizeBytes uint64, excludeNodes map[string]bool) []Candidate {
	type nodeLoad struct {
		nodeID string
		load   int
	}

	replicasPerNode := make(map[string]int)
	for _, entry := range s.rr.Replicas.Values() {
		r := entry.Clone()
		if r.Status == types.Deleted || r.Status == types.Deleting {
			continue
		}
		replicasPerNode[r.Node]++
	}

	var candidatesByNode = make(map[string][]Candidate)
	for _, entry := range s.rr.Pools.Values() {
		pool := entry.Clone()
		if pool.Status != types.Created {
			continue
		}
		if excludeNodes[pool.Node] {
			continue
		}
		candidatesByNode[pool.Node] = append(candidatesByNode[pool.Node], Candidate{
			PoolID: pool.ID,
			NodeID: pool.Node,
			// Disk-level capacity accounting lives on the node agent;
			// the registry only knows the pool exists and is healthy.
			FreeBytes: sizeBytes,
		})
	}

	var loads []nodeLoad
	for nodeID := range candidatesByNode {
		loads = append(loads, nodeLoad{nodeID: nodeID, load: replicasPerNode[nodeID]})
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].load != loads[j].load {
			return loads[i].load < loads[j].load
		}
		return loads[i].nodeID < loads[j].nodeID
	})

	var out []Candidate
	for _, nl := range loads {
		if len(out) >= count {
			break
		}
		pools := candidatesByNode[nl.nodeID]
		if len(pools) == 0 {
			continue
		}
		// One replica per node: take the first pool on the least-loaded node.
		out = append(out, pools[0])
	}

	if len(out) < count {
		s.logger.Warn().
			Int("requested", count).
			Int("available", len(out)).
			Msg("not enough distinct-node pool candidates")
	}

	return out
}

// MoveCandidate returns a single replacement pool candidate for
// move-replica (§4.5.5), excluding the replicas' current nodes.
func (s *Scheduler) MoveCandidate(sizeBytes uint64, excludeNodes map[string]bool) (Candidate, bool) {
	candidates := s.ReplicaCandidates(1, sizeBytes, excludeNodes)
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

// TargetNode picks the node a volume's nexus should run on for
// publish (§4.5.2): prefer the node already hosting the volume's
// first (locally-addressed) replica, so the nexus is co-located with
// it; otherwise fall back to the node of the first of the volume's
// replicas found in the registry.
func (s *Scheduler) TargetNode(vol types.Volume) (string, bool) {
	var fallback string
	for _, replicaID := range vol.ReplicaIDs {
		entry, ok := s.rr.Replicas.Get(replicaID)
		if !ok {
			continue
		}
		r := entry.Clone()
		if r.Share == types.ShareNone {
			return r.Node, true
		}
		if fallback == "" {
			fallback = r.Node
		}
	}
	if fallback == "" {
		return "", false
	}
	return fallback, true
}

// LeastHealthyReplica picks the replica to drop when set-replica
// decreases the replication factor (§4.5.5): prefer a replica whose
// nexus-child is reported unhealthy, else the most recently created.
func (s *Scheduler) LeastHealthyReplica(nexus types.Nexus, replicaIDs []string) (string, bool) {
	unhealthyByURI := make(map[string]bool)
	for _, child := range nexus.Children {
		if !child.Healthy {
			unhealthyByURI[child.URI] = true
		}
	}

	var newestID string
	var newestAt int64
	for _, id := range replicaIDs {
		entry, ok := s.rr.Replicas.Get(id)
		if !ok {
			continue
		}
		r := entry.Clone()
		if unhealthyByURI[r.URI] {
			return id, true
		}
		if ts := r.CreatedAt.Unix(); newestID == "" || ts >= newestAt {
			newestAt = ts
			newestID = id
		}
	}
	if newestID == "" {
		return "", false
	}
	return newestID, true
}
