package volume

import (
	"context"
	"testing"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateThreeReplicasAcrossDistinctNodes(t *testing.T) {
	h, _ := newTestHarness(t, 3)
	volID := uuid.NewString()

	vol, err := h.svc.Create(context.Background(), CreateRequest{
		UUID:         volID,
		Name:         "vol1",
		SizeBytes:    1 << 20,
		ReplicaCount: 3,
	})
	require.NoError(t, err)
	require.Equal(t, types.Created, vol.Status)
	require.Len(t, vol.ReplicaIDs, 3)

	nodes := make(map[string]bool)
	for _, replicaID := range vol.ReplicaIDs {
		entry, ok := h.rr.Replicas.Get(replicaID)
		require.True(t, ok)
		rep := entry.Clone()
		require.Equal(t, types.Created, rep.Status)
		require.Equal(t, volID, rep.Owners.Volume)
		nodes[rep.Node] = true
	}
	require.Len(t, nodes, 3, "each replica should land on a distinct node")
}

func TestCreateShortOfReplicationFactorRollsBackEverything(t *testing.T) {
	h, fakes := newTestHarness(t, 3)
	fakes[2].failReplicaCreate = true // node-c
	volID := uuid.NewString()

	vol, err := h.svc.Create(context.Background(), CreateRequest{
		UUID:         volID,
		SizeBytes:    1 << 20,
		ReplicaCount: 3,
	})
	require.Error(t, err)
	require.Equal(t, corerrors.ReplicaCreateNumber, corerrors.CodeOf(err))
	_ = vol

	_, stillThere := h.rr.Volumes.Get(volID)
	require.False(t, stillThere, "a short create must leave no volume behind")
	require.Equal(t, 0, h.rr.Replicas.Len(), "replicas created before the short-create check must be rolled back")
}

func TestCreateDemotesFirstSuccessfulReplicaNotFirstCandidate(t *testing.T) {
	h, fakes := newTestHarness(t, 2)
	fakes[0].failReplicaCreate = true // node-a: first candidate, fails
	volID := uuid.NewString()

	vol, err := h.svc.Create(context.Background(), CreateRequest{
		UUID:         volID,
		SizeBytes:    1 << 20,
		ReplicaCount: 1,
	})
	require.NoError(t, err)
	require.Len(t, vol.ReplicaIDs, 1)

	entry, ok := h.rr.Replicas.Get(vol.ReplicaIDs[0])
	require.True(t, ok)
	rep := entry.Clone()
	require.Equal(t, types.ShareNone, rep.Share, "the first replica that actually succeeds must be demoted, not the first candidate tried")
}

func TestCreateRejectsZeroUUID(t *testing.T) {
	h, _ := newTestHarness(t, 1)
	_, err := h.svc.Create(context.Background(), CreateRequest{UUID: "", ReplicaCount: 1})
	require.Error(t, err)
	require.Equal(t, corerrors.InvalidArguments, corerrors.CodeOf(err))
}

func TestCreateNotEnoughDistinctNodesFailsReplicaCreateNumber(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	volID := uuid.NewString()

	_, err := h.svc.Create(context.Background(), CreateRequest{
		UUID:         volID,
		SizeBytes:    1 << 20,
		ReplicaCount: 3,
	})
	require.Error(t, err)
	require.Equal(t, corerrors.ReplicaCreateNumber, corerrors.CodeOf(err))
	require.Equal(t, 0, h.rr.Volumes.Len())
}
