package volume

import (
	"context"
	"testing"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestListVolumesFiltersByVolumeID(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	ctx := context.Background()

	v1, err := h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "a", SizeBytes: 1 << 20, ReplicaCount: 1})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "b", SizeBytes: 1 << 20, ReplicaCount: 1})
	require.NoError(t, err)

	all, err := h.svc.ListVolumes(types.Filter{Kind: types.FilterNone})
	require.NoError(t, err)
	require.Len(t, all, 2)

	scoped, err := h.svc.ListVolumes(types.Filter{Kind: types.FilterVolume, VolumeID: v1.ID})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, v1.ID, scoped[0].ID)
}

func TestListVolumesRejectsUnsupportedFilterKind(t *testing.T) {
	h, _ := newTestHarness(t, 1)
	_, err := h.svc.ListVolumes(types.Filter{Kind: types.FilterPoolReplica})
	require.Error(t, err)
	require.Equal(t, corerrors.InvalidFilter, corerrors.CodeOf(err))
}

func TestListReplicasFiltersByPool(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	ctx := context.Background()

	vol, err := h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "a", SizeBytes: 1 << 20, ReplicaCount: 2})
	require.NoError(t, err)
	require.Len(t, vol.ReplicaIDs, 2)

	entry, ok := h.rr.Replicas.Get(vol.ReplicaIDs[0])
	require.True(t, ok)
	firstReplicaPool := entry.Clone().Pool

	scoped, err := h.svc.ListReplicas(types.Filter{Kind: types.FilterPool, PoolID: firstReplicaPool})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, firstReplicaPool, scoped[0].Pool)
}

func TestListAffinityGroupsGroupsVolumesByID(t *testing.T) {
	h, _ := newTestHarness(t, 1)
	ctx := context.Background()

	v1, err := h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "a", SizeBytes: 1 << 20, ReplicaCount: 1, AffinityGroupID: "grp-1"})
	require.NoError(t, err)
	v2, err := h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "b", SizeBytes: 1 << 20, ReplicaCount: 1, AffinityGroupID: "grp-1"})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, CreateRequest{UUID: uuid.NewString(), Name: "c", SizeBytes: 1 << 20, ReplicaCount: 1})
	require.NoError(t, err)

	groups := h.svc.ListAffinityGroups()
	require.Len(t, groups, 1)
	require.Equal(t, "grp-1", groups[0].ID)
	require.ElementsMatch(t, []string{v1.ID, v2.ID}, groups[0].VolumeIDs)
}
