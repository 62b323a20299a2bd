package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	key := Key("volume", "abc")
	require.NoError(t, s.Put(ctx, key, []byte("hello")))

	v, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "hello", string(v))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreRangePagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	prefix := Prefix("replica")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, prefix+string(rune('a'+i)), []byte("v")))
	}

	var all []string
	startKey := ""
	for {
		page, cont, err := s.Range(ctx, prefix, startKey, 2)
		require.NoError(t, err)
		for _, e := range page.Entries {
			all = append(all, e.Key)
		}
		if !page.More {
			break
		}
		startKey = cont
	}

	require.Len(t, all, 5)
}

func TestMigrateMovesAndDeletesV1Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v1Key := KeyWithVersion(V1, "volume", "abc")
	require.NoError(t, s.Put(ctx, v1Key, []byte(`{"id":"abc"}`)))

	n, err := Migrate(ctx, s, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, v1Key)
	require.ErrorIs(t, err, ErrNotFound)

	v2Key := KeyWithVersion(V2, "volume", "abc")
	v, err := s.Get(ctx, v2Key)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"abc"}`, string(v))
}

func TestMigrateDryRunLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v1Key := KeyWithVersion(V1, "volume", "abc")
	require.NoError(t, s.Put(ctx, v1Key, []byte(`{}`)))

	n, err := Migrate(ctx, s, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, v1Key)
	require.NoError(t, err, "dry run must not delete the v1 key")
}

func TestLeaseLockSingleHolder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	guard, err := s.LeaseLock(ctx, "corectl")
	require.NoError(t, err)

	select {
	case <-guard.Lost():
		t.Fatal("lease should not be lost yet")
	default:
	}

	require.NoError(t, guard.Release(ctx))
	<-guard.Lost()
}
