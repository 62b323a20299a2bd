package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/corectl/pkg/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdStore is the production PSC backing store. It maps the contract
// of store.Store directly onto etcd's native primitives: Put/Get/Delete,
// prefix range with WithLimit (and WithRange from the continuation key
// for later pages) for pagination, and a
// concurrency.Session-backed mutex for the service-wide lease lock.
type EtcdStore struct {
	client   *clientv3.Client
	leaseTTL int
}

// Config holds the settings needed to dial etcd.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	LeaseTTLSec int
}

// NewEtcdStore dials etcd and returns a ready-to-use PSC.
func NewEtcdStore(cfg Config) (*EtcdStore, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.LeaseTTLSec == 0 {
		cfg.LeaseTTLSec = 10
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("store: dial etcd: %w", err)
	}

	return &EtcdStore{client: cli, leaseTTL: cfg.LeaseTTLSec}, nil
}

func (s *EtcdStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.Put(ctx, key, string(value))
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.client.Delete(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("store: delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Range scans one page of keys under prefix. startKey, when non-empty,
// resumes from the key immediately after it (exclusive): the scan starts
// at startKey itself with WithRange up to the prefix end, and that
// first, inclusive result is skipped.
func (s *EtcdStore) Range(ctx context.Context, prefix string, startKey string, pageSize int64) (Page, string, error) {
	limit := pageSize + 1
	if startKey != "" {
		limit++ // startKey itself comes back first and is skipped below
	}
	opts := []clientv3.OpOption{clientv3.WithLimit(limit)}

	from := prefix
	if startKey != "" {
		from = startKey
		opts = append(opts, clientv3.WithRange(clientv3.GetPrefixRangeEnd(prefix)))
	} else {
		opts = append(opts, clientv3.WithPrefix())
	}

	resp, err := s.client.Get(ctx, from, opts...)
	if err != nil {
		return Page{}, "", fmt.Errorf("store: range %s: %w", prefix, err)
	}

	kvs := resp.Kvs
	if startKey != "" && len(kvs) > 0 && string(kvs[0].Key) == startKey {
		kvs = kvs[1:]
	}

	more := int64(len(kvs)) > pageSize
	if more {
		kvs = kvs[:pageSize]
	}

	page := Page{More: more}
	var cont string
	for _, kv := range kvs {
		page.Entries = append(page.Entries, Entry{Key: string(kv.Key), Value: kv.Value})
		cont = string(kv.Key)
	}
	return page, cont, nil
}

// etcdLeaseGuard wraps a concurrency.Session + Mutex pair.
type etcdLeaseGuard struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func (g *etcdLeaseGuard) Lost() <-chan struct{} {
	return g.session.Done()
}

func (g *etcdLeaseGuard) Release(ctx context.Context) error {
	if err := g.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("store: release lease lock: %w", err)
	}
	return g.session.Close()
}

// LeaseLock acquires the cluster-wide single-leader lock for service.
// Losing the backing session (Lost() firing) must be treated as fatal
// by the caller: two core instances must never believe they both hold
// the lock.
func (s *EtcdStore) LeaseLock(ctx context.Context, service string) (LeaseGuard, error) {
	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(s.leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("store: new lease session: %w", err)
	}

	mutex := concurrency.NewMutex(session, "/corectl-lease/"+service)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("store: acquire lease lock %q: %w", service, err)
	}

	log.Info(fmt.Sprintf("acquired lease lock for service %q", service))
	return &etcdLeaseGuard{session: session, mutex: mutex}, nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
