package volume

import (
	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/types"
)

// ListVolumes returns every volume passing filter, in registry
// insertion order. Only FilterNone, FilterVolume, and FilterSnapshot
// constrain volumes; any other kind is rejected as InvalidFilter.
func (s *Service) ListVolumes(filter types.Filter) ([]types.Volume, error) {
	switch filter.Kind {
	case types.FilterNone, types.FilterVolume, types.FilterSnapshot:
	default:
		return nil, corerrors.New(corerrors.InvalidFilter, "volume", "")
	}

	out := make([]types.Volume, 0)
	for _, entry := range s.rr.Volumes.Values() {
		v := entry.Clone()
		if filter.MatchesVolume(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListPools returns every pool passing filter. FilterNode and
// FilterPool constrain pools; anything else is rejected.
func (s *Service) ListPools(filter types.Filter) ([]types.Pool, error) {
	switch filter.Kind {
	case types.FilterNone, types.FilterNode, types.FilterPool:
	default:
		return nil, corerrors.New(corerrors.InvalidFilter, "pool", "")
	}

	out := make([]types.Pool, 0)
	for _, entry := range s.rr.Pools.Values() {
		p := entry.Clone()
		if filter.MatchesPool(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListReplicas returns every replica passing filter: None, Node, Pool,
// NodePool, PoolReplica, or Volume.
func (s *Service) ListReplicas(filter types.Filter) ([]types.Replica, error) {
	switch filter.Kind {
	case types.FilterNone, types.FilterNode, types.FilterPool, types.FilterNodePool,
		types.FilterPoolReplica, types.FilterVolume:
	default:
		return nil, corerrors.New(corerrors.InvalidFilter, "replica", "")
	}

	out := make([]types.Replica, 0)
	for _, entry := range s.rr.Replicas.Values() {
		r := entry.Clone()
		if filter.MatchesReplica(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListSnapshots returns every snapshot passing filter: None, Snapshot,
// Volume, or VolumeSnapshot.
func (s *Service) ListSnapshots(filter types.Filter) ([]types.VolumeSnapshot, error) {
	switch filter.Kind {
	case types.FilterNone, types.FilterSnapshot, types.FilterVolume, types.FilterVolumeSnapshot:
	default:
		return nil, corerrors.New(corerrors.InvalidFilter, "snapshot", "")
	}

	out := make([]types.VolumeSnapshot, 0)
	for _, entry := range s.rr.Snapshots.Values() {
		snap := entry.Clone()
		if filter.MatchesSnapshot(snap) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// ListNodes returns every registered node unfiltered; nodes are never
// destroyed so there is no meaningful scoping filter for them.
func (s *Service) ListNodes() []types.Node {
	out := make([]types.Node, 0)
	for _, entry := range s.rr.Nodes.Values() {
		out = append(out, entry.Clone())
	}
	return out
}

// ListAffinityGroups returns the query-time-derived affinity groups
// (§3: AffinityGroup is "derived from volumes; not persisted").
func (s *Service) ListAffinityGroups() []types.AffinityGroup {
	return s.rr.AffinityGroups()
}
