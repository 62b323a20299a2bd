package events

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchFiresWithin250msOfPublish(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	broker := NewBroker()
	watches := NewWatchStore()
	watches.AddWatch("volume", "v1", server.URL)

	notifier := NewNotifier(broker, watches)
	notifier.Start()
	defer notifier.Stop()

	broker.Publish(Event{Kind: KindPut, ResourceKind: "volume", ResourceID: "v1"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 1
	}, 250*time.Millisecond, 5*time.Millisecond)
}

func TestDeleteWatchPreventsSubsequentCallbacks(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	broker := NewBroker()
	watches := NewWatchStore()
	watchID := watches.AddWatch("volume", "v1", server.URL)

	notifier := NewNotifier(broker, watches)
	notifier.Start()
	defer notifier.Stop()

	broker.Publish(Event{Kind: KindPut, ResourceKind: "volume", ResourceID: "v1"})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, 250*time.Millisecond, 5*time.Millisecond)

	require.True(t, watches.DeleteWatch(watchID))

	broker.Publish(Event{Kind: KindPut, ResourceKind: "volume", ResourceID: "v1"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDistinctResourcesDoNotCrossFire(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	broker := NewBroker()
	watches := NewWatchStore()
	watches.AddWatch("volume", "v1", server.URL)

	notifier := NewNotifier(broker, watches)
	notifier.Start()
	defer notifier.Stop()

	broker.Publish(Event{Kind: KindPut, ResourceKind: "volume", ResourceID: "v2"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
