package txn

import (
	"context"
	"testing"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/stretchr/testify/require"
)

func newReplicaEntry() (*registry.Registry[types.Replica], *registry.Locked[types.Replica]) {
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{ID: "r1", Pool: "p1"})
	return reg, entry
}

func TestCreateStartFirstAttemptTransitionsToCreating(t *testing.T) {
	_, entry := newReplicaEntry()

	clone, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", map[string]any{"pool": "p1"})
	require.NoError(t, err)
	require.Equal(t, types.Creating, clone.Status)
	require.NotNil(t, clone.Pending)
}

func TestCreateStartIdempotentRetrySameRequestSucceeds(t *testing.T) {
	_, entry := newReplicaEntry()
	req := map[string]any{"pool": "p1"}

	_, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", req)
	require.NoError(t, err)

	clone, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", req)
	require.NoError(t, err)
	require.Equal(t, types.Creating, clone.Status)
}

func TestCreateStartDifferentRequestReturnsMismatch(t *testing.T) {
	_, entry := newReplicaEntry()
	_, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", map[string]any{"pool": "p1"})
	require.NoError(t, err)

	_, err = CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", map[string]any{"pool": "p2"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReCreateMismatch")
}

func TestCreateStartAlreadyCreatedReturnsAlreadyExists(t *testing.T) {
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{ID: "r1", Status: types.Created})

	_, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AlreadyExists")
}

func TestCreateCompleteSuccessCommitsAndPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	_, entry := newReplicaEntry()

	_, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", "req")
	require.NoError(t, err)

	result := Ok[types.Replica](func(r *types.Replica) { r.URI = "bdev:///r1" })
	clone, err := CreateComplete[types.Replica, *types.Replica](ctx, s, entry, "replica", "r1", result, DefaultOnCreateFail)
	require.NoError(t, err)
	require.Equal(t, types.Created, clone.Status)
	require.Nil(t, clone.Pending)
	require.Equal(t, "bdev:///r1", clone.URI)

	raw, err := s.Get(ctx, store.Key("replica", "r1"))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestCreateCompleteNotFoundDeletesSpec(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	_, entry := newReplicaEntry()

	_, err := CreateStart[types.Replica, *types.Replica](entry, "replica", "r1", "req")
	require.NoError(t, err)
	require.NoError(t, PersistIntent[types.Replica, *types.Replica](ctx, s, entry, "replica", "r1", entry.Clone()))

	nodeErr := corerrors.New(corerrors.NotFound, "node-rpc", "r1")
	_, err = CreateComplete[types.Replica, *types.Replica](ctx, s, entry, "replica", "r1", Failed[types.Replica](nodeErr), DefaultOnCreateFail)
	require.Error(t, err)

	_, getErr := s.Get(ctx, store.Key("replica", "r1"))
	require.Error(t, getErr)
}

func TestDestroyStartWithRemainingOwnersReturnsInUse(t *testing.T) {
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{
		ID:     "r1",
		Status: types.Created,
		Owners: types.ReplicaOwners{Volume: "v1", Nexuses: []string{"n1"}},
	})

	_, err := DestroyStart[types.Replica, *types.Replica](entry, "replica", "r1", func(r *types.Replica) bool {
		r.Owners.Volume = ""
		return r.Owners.Empty()
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "InUse")
}

func TestDestroyStartDisownAllTransitionsToDeleting(t *testing.T) {
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{
		ID:     "r1",
		Status: types.Created,
		Owners: types.ReplicaOwners{Volume: "v1"},
	})

	clone, err := DestroyStart[types.Replica, *types.Replica](entry, "replica", "r1", func(r *types.Replica) bool {
		r.Owners = types.ReplicaOwners{}
		return r.Owners.Empty()
	})
	require.NoError(t, err)
	require.Equal(t, types.Deleting, clone.Status)
	require.NotNil(t, clone.Pending)
}

func TestDestroyCompleteRemovesFromRegistryAndStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	reg, entry := newReplicaEntry()
	require.NoError(t, s.Put(ctx, store.Key("replica", "r1"), []byte(`{}`)))

	err := DestroyComplete[types.Replica, *types.Replica](ctx, s, reg, entry, "replica", "r1", nil)
	require.NoError(t, err)
	require.Equal(t, 0, reg.Len())

	_, getErr := s.Get(ctx, store.Key("replica", "r1"))
	require.Error(t, getErr)
}

func TestClassifyDispatchesOnOpResult(t *testing.T) {
	creating := &types.Replica{Status: types.Creating, Pending: &types.PendingOperation{Kind: types.OpCreate}}
	require.Equal(t, CrashBeforeAck, Classify[types.Replica, *types.Replica](creating))

	success := true
	committed := &types.Replica{Status: types.Creating, Pending: &types.PendingOperation{Kind: types.OpCreate, OpResult: &success}}
	require.Equal(t, RecommitLost, Classify[types.Replica, *types.Replica](committed))

	failed := false
	rolledBack := &types.Replica{Status: types.Creating, Pending: &types.PendingOperation{Kind: types.OpCreate, OpResult: &failed}}
	require.Equal(t, RollbackLost, Classify[types.Replica, *types.Replica](rolledBack))

	clean := &types.Replica{Status: types.Created}
	require.Equal(t, NotDirty, Classify[types.Replica, *types.Replica](clean))
}

func TestRecoverRecommitLostSetsCreatedAndPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	success := true
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{
		ID:     "r1",
		Status: types.Creating,
		Pending: &types.PendingOperation{Kind: types.OpCreate, OpResult: &success},
	})

	dk, err := Recover[types.Replica, *types.Replica](ctx, s, reg, entry, "replica", "r1", func(r *types.Replica) { r.URI = "bdev:///r1" })
	require.NoError(t, err)
	require.Equal(t, RecommitLost, dk)

	clone := entry.Clone()
	require.Equal(t, types.Created, clone.Status)
	require.Nil(t, clone.Pending)
	require.Equal(t, "bdev:///r1", clone.URI)
}

func TestRecoverRollbackLostOnDestroyRetriesDeleteAndRemovesFromRegistry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	require.NoError(t, s.Put(ctx, store.Key("replica", "r1"), []byte(`{}`)))

	failed := false
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{
		ID:      "r1",
		Status:  types.Deleting,
		Pending: &types.PendingOperation{Kind: types.OpDestroy, OpResult: &failed},
	})

	dk, err := Recover[types.Replica, *types.Replica](ctx, s, reg, entry, "replica", "r1", nil)
	require.NoError(t, err)
	require.Equal(t, RollbackLost, dk)

	require.Equal(t, 0, reg.Len(), "a destroy whose commit-time PSC delete was lost must be removed from RR on recovery")

	_, getErr := s.Get(ctx, store.Key("replica", "r1"))
	require.Error(t, getErr, "the lost PSC delete must be retried, not re-put")
}

func TestRecoverCrashBeforeAckSetsDeletingWhenCreating(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	reg := registry.New[types.Replica]()
	entry := reg.Insert("r1", types.Replica{
		ID:      "r1",
		Status:  types.Creating,
		Pending: &types.PendingOperation{Kind: types.OpCreate},
	})

	dk, err := Recover[types.Replica, *types.Replica](ctx, s, reg, entry, "replica", "r1", nil)
	require.NoError(t, err)
	require.Equal(t, CrashBeforeAck, dk)
	require.Equal(t, types.Deleting, entry.Clone().Status)
}
