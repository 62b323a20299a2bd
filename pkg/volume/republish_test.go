package volume

import (
	"context"
	"testing"

	"github.com/cuemby/corectl/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func createAndPublish(t *testing.T, h *testHarness, replicaCount int, allowedHosts []string) types.Volume {
	t.Helper()
	volID := uuid.NewString()
	vol, err := h.svc.Create(context.Background(), CreateRequest{
		UUID:         volID,
		SizeBytes:    1 << 20,
		ReplicaCount: replicaCount,
	})
	require.NoError(t, err)

	published, err := h.svc.Publish(context.Background(), PublishRequest{
		VolumeID:      volID,
		ShareProtocol: types.ShareNVMf,
		AllowedHosts:  allowedHosts,
	})
	require.NoError(t, err)
	require.NotNil(t, published.Target)
	_ = vol
	return published
}

func TestPublishCreatesNexusOnReplicaCoLocatedNode(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	published := createAndPublish(t, h, 2, []string{"nqn.host1"})

	nexusEntry, ok := h.rr.Nexuses.Get(published.Target.NexusID)
	require.True(t, ok)
	nexus := nexusEntry.Clone()
	require.Equal(t, types.Created, nexus.Status)
	require.Equal(t, published.ID, nexus.Owner)
	require.Len(t, nexus.Children, 2)
}

func TestRepublishWithExistingFallbackReusesHealthyTarget(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	published := createAndPublish(t, h, 2, []string{"nqn.host1"})
	originalNexus := published.Target.NexusID

	result, err := h.svc.Republish(context.Background(), RepublishRequest{
		VolumeID:      published.ID,
		FrontendNode:  "nqn.host1",
		ShareProtocol: types.ShareNVMf,
		Reuse:         ReuseExistingFallback,
	})
	require.NoError(t, err)
	require.Equal(t, originalNexus, result.Target.NexusID, "a healthy target with ReuseExistingFallback must not move")
	require.Equal(t, 1, h.rr.Nexuses.Len(), "no second nexus should have been created")
}

func TestRepublishRejectsUnknownFrontendNode(t *testing.T) {
	h, _ := newTestHarness(t, 2)
	published := createAndPublish(t, h, 2, []string{"nqn.host1"})

	_, err := h.svc.Republish(context.Background(), RepublishRequest{
		VolumeID:      published.ID,
		FrontendNode:  "nqn.unknown",
		ShareProtocol: types.ShareNVMf,
		Reuse:         ReuseExisting,
	})
	require.Error(t, err)
}

func TestRepublishNeverReuseMovesToNewNexus(t *testing.T) {
	h, _ := newTestHarness(t, 3)
	published := createAndPublish(t, h, 2, []string{"nqn.host1"})
	originalNexus := published.Target.NexusID

	result, err := h.svc.Republish(context.Background(), RepublishRequest{
		VolumeID:      published.ID,
		FrontendNode:  "nqn.host1",
		ShareProtocol: types.ShareNVMf,
		Reuse:         ReuseNever,
	})
	require.NoError(t, err)
	require.NotEqual(t, originalNexus, result.Target.NexusID)

	_, stillThere := h.rr.Nexuses.Get(originalNexus)
	require.False(t, stillThere, "the old nexus must be torn down after a move")
}
