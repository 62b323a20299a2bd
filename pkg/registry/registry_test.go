package registry

import (
	"testing"

	"github.com/cuemby/corectl/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	r := New[types.Volume]()

	r.Insert("vol-1", types.Volume{ID: "vol-1", Name: "data"})
	entry, ok := r.Get("vol-1")
	require.True(t, ok)
	require.Equal(t, "data", entry.Clone().Name)

	r.Remove("vol-1")
	_, ok = r.Get("vol-1")
	require.False(t, ok)
}

func TestInsertDoesNotOverwriteExisting(t *testing.T) {
	r := New[types.Volume]()
	first := r.Insert("vol-1", types.Volume{ID: "vol-1", Name: "first"})
	second := r.Insert("vol-1", types.Volume{ID: "vol-1", Name: "second"})

	require.Same(t, first, second)
	require.Equal(t, "first", second.Clone().Name)
}

func TestValuesPreservesInsertionOrder(t *testing.T) {
	r := New[types.Volume]()
	r.Insert("a", types.Volume{ID: "a"})
	r.Insert("b", types.Volume{ID: "b"})
	r.Insert("c", types.Volume{ID: "c"})
	r.Remove("b")

	var ids []string
	for _, e := range r.Values() {
		ids = append(ids, e.Clone().ID)
	}
	require.Equal(t, []string{"a", "c"}, ids)
}

func TestUpdateMutatesInPlace(t *testing.T) {
	r := New[types.Volume]()
	r.Insert("vol-1", types.Volume{ID: "vol-1", Status: types.Creating})

	entry, _ := r.Get("vol-1")
	entry.Update(func(v *types.Volume) {
		v.Status = types.Created
	})

	require.Equal(t, types.Created, entry.Clone().Status)
}

func TestBackfillReplicaOwnersFromNexusChildren(t *testing.T) {
	rr := NewRegistries()
	rr.Replicas.Insert("r1", types.Replica{ID: "r1", URI: "bdev:///r1"})
	rr.Nexuses.Insert("n1", types.Nexus{
		ID:       "n1",
		Children: []types.NexusChild{{URI: "bdev:///r1"}},
	})

	Backfill(rr)

	entry, ok := rr.Replicas.Get("r1")
	require.True(t, ok)
	require.Contains(t, entry.Clone().Owners.Nexuses, "n1")
}

func TestBackfillSnapshotRelationships(t *testing.T) {
	rr := NewRegistries()
	rr.Volumes.Insert("v1", types.Volume{ID: "v1"})
	rr.Volumes.Insert("v2", types.Volume{
		ID:            "v2",
		ContentSource: types.ContentSource{Kind: types.ContentSourceSnapshot, SnapshotID: "s1"},
	})
	rr.Snapshots.Insert("s1", types.VolumeSnapshot{ID: "s1", SourceVolume: "v1"})

	Backfill(rr)

	vol, _ := rr.Volumes.Get("v1")
	require.Contains(t, vol.Clone().SnapshotIDs, "s1")

	snap, _ := rr.Snapshots.Get("s1")
	require.Contains(t, snap.Clone().RestoredBy, "v2")
}
