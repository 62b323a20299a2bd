package scheduler

import (
	"testing"
	"time"

	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/stretchr/testify/require"
)

func threeNodeRegistries() *registry.Registries {
	rr := registry.NewRegistries()
	rr.Pools.Insert("p1", types.Pool{ID: "p1", Node: "n1", Status: types.Created})
	rr.Pools.Insert("p2", types.Pool{ID: "p2", Node: "n2", Status: types.Created})
	rr.Pools.Insert("p3", types.Pool{ID: "p3", Node: "n3", Status: types.Created})
	return rr
}

func TestReplicaCandidatesNeverReusesNode(t *testing.T) {
	rr := threeNodeRegistries()
	sched := New(rr)

	candidates := sched.ReplicaCandidates(3, 1024, nil)
	require.Len(t, candidates, 3)

	seen := make(map[string]bool)
	for _, c := range candidates {
		require.False(t, seen[c.NodeID], "node %s selected twice", c.NodeID)
		seen[c.NodeID] = true
	}
}

func TestReplicaCandidatesPrefersLeastLoadedNode(t *testing.T) {
	rr := threeNodeRegistries()
	rr.Replicas.Insert("existing-1", types.Replica{ID: "existing-1", Node: "n1", Status: types.Created})
	rr.Replicas.Insert("existing-2", types.Replica{ID: "existing-2", Node: "n1", Status: types.Created})

	sched := New(rr)
	candidates := sched.ReplicaCandidates(1, 1024, nil)
	require.Len(t, candidates, 1)
	require.NotEqual(t, "n1", candidates[0].NodeID)
}

func TestReplicaCandidatesHonorsExcludeNodes(t *testing.T) {
	rr := threeNodeRegistries()
	sched := New(rr)

	candidates := sched.ReplicaCandidates(2, 1024, map[string]bool{"n1": true})
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		require.NotEqual(t, "n1", c.NodeID)
	}
}

func TestReplicaCandidatesShortWhenInsufficientNodes(t *testing.T) {
	rr := registry.NewRegistries()
	rr.Pools.Insert("p1", types.Pool{ID: "p1", Node: "n1", Status: types.Created})
	rr.Pools.Insert("p2", types.Pool{ID: "p2", Node: "n2", Status: types.Created})

	sched := New(rr)
	candidates := sched.ReplicaCandidates(3, 1024, nil)
	require.Len(t, candidates, 2)
}

func TestTargetNodePrefersLocallyAddressedReplica(t *testing.T) {
	rr := registry.NewRegistries()
	rr.Replicas.Insert("r1", types.Replica{ID: "r1", Node: "n1", Share: types.ShareNVMf})
	rr.Replicas.Insert("r2", types.Replica{ID: "r2", Node: "n2", Share: types.ShareNone})

	sched := New(rr)
	node, ok := sched.TargetNode(types.Volume{ReplicaIDs: []string{"r1", "r2"}})
	require.True(t, ok)
	require.Equal(t, "n2", node)
}

func TestLeastHealthyReplicaPrefersUnhealthyChild(t *testing.T) {
	rr := registry.NewRegistries()
	rr.Replicas.Insert("r1", types.Replica{ID: "r1", URI: "bdev:///r1", CreatedAt: time.Now()})
	rr.Replicas.Insert("r2", types.Replica{ID: "r2", URI: "bdev:///r2", CreatedAt: time.Now()})

	sched := New(rr)
	nexus := types.Nexus{Children: []types.NexusChild{
		{URI: "bdev:///r1", Healthy: true},
		{URI: "bdev:///r2", Healthy: false},
	}}

	picked, ok := sched.LeastHealthyReplica(nexus, []string{"r1", "r2"})
	require.True(t, ok)
	require.Equal(t, "r2", picked)
}
