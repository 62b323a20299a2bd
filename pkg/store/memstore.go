package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by package tests throughout
// pkg/txn, pkg/volume and pkg/reconciler so they don't need a live
// etcd. It implements the same contract (including pagination and a
// single-holder lease lock) as EtcdStore.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte

	leaseMu     sync.Mutex
	leaseHolder chan struct{} // non-nil while held; closed on Release
}

// NewMemStore returns an empty in-memory PSC.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemStore) Range(_ context.Context, prefix string, startKey string, pageSize int64) (Page, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			if startKey != "" && k <= startKey {
				continue
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	more := int64(len(keys)) > pageSize
	if more {
		keys = keys[:pageSize]
	}

	page := Page{More: more}
	var cont string
	for _, k := range keys {
		page.Entries = append(page.Entries, Entry{Key: k, Value: s.data[k]})
		cont = k
	}
	return page, cont, nil
}

type memLeaseGuard struct {
	store *MemStore
	lost  chan struct{}
}

func (g *memLeaseGuard) Lost() <-chan struct{} { return g.lost }

func (g *memLeaseGuard) Release(_ context.Context) error {
	g.store.leaseMu.Lock()
	defer g.store.leaseMu.Unlock()
	if g.store.leaseHolder != nil {
		close(g.store.leaseHolder)
		g.store.leaseHolder = nil
	}
	return nil
}

// LeaseLock grants the lock immediately and unconditionally, replacing
// any current holder; MemStore is for single-process tests, so it never
// blocks on contention.
func (s *MemStore) LeaseLock(_ context.Context, _ string) (LeaseGuard, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	lost := make(chan struct{})
	s.leaseHolder = lost
	return &memLeaseGuard{store: s, lost: lost}, nil
}

func (s *MemStore) Close() error { return nil }
