package events

import (
	"sync"

	"github.com/google/uuid"
)

// Watch is one caller's registration of interest in a single
// resource's spec-update events.
type Watch struct {
	ID          string
	ResourceKind string
	ResourceID   string
	CallbackURL  string
}

// WatchStore holds active watches, keyed by resource so Notifier can
// look up "who cares about this event" in O(1) rather than scanning
// every watch on every publish.
type WatchStore struct {
	mu      sync.RWMutex
	byKey   map[string][]Watch // "<kind>/<id>" -> watches
	byID    map[string]string  // watch id -> key, for DeleteWatch
}

// NewWatchStore returns an empty WatchStore.
func NewWatchStore() *WatchStore {
	return &WatchStore{
		byKey: make(map[string][]Watch),
		byID:  make(map[string]string),
	}
}

func watchKey(resourceKind, resourceID string) string {
	return resourceKind + "/" + resourceID
}

// AddWatch registers a new callback for the given resource and returns
// the watch id a caller uses with DeleteWatch.
func (w *WatchStore) AddWatch(resourceKind, resourceID, callbackURL string) string {
	watch := Watch{
		ID:           uuid.NewString(),
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		CallbackURL:  callbackURL,
	}

	key := watchKey(resourceKind, resourceID)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.byKey[key] = append(w.byKey[key], watch)
	w.byID[watch.ID] = key
	return watch.ID
}

// DeleteWatch removes a watch; events dispatched after it returns no
// longer trigger its callback. A callback already started for an
// earlier event still runs.
func (w *WatchStore) DeleteWatch(watchID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	key, ok := w.byID[watchID]
	if !ok {
		return false
	}
	delete(w.byID, watchID)

	watches := w.byKey[key]
	for i, watch := range watches {
		if watch.ID == watchID {
			w.byKey[key] = append(watches[:i], watches[i+1:]...)
			break
		}
	}
	if len(w.byKey[key]) == 0 {
		delete(w.byKey, key)
	}
	return true
}

// WatchesFor returns a snapshot of the watches currently registered on
// a resource.
func (w *WatchStore) WatchesFor(resourceKind, resourceID string) []Watch {
	w.mu.RLock()
	defer w.mu.RUnlock()
	watches := w.byKey[watchKey(resourceKind, resourceID)]
	out := make([]Watch, len(watches))
	copy(out, watches)
	return out
}
