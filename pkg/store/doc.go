/*
Package store implements the Persistent Store Client (PSC): the core's
only durable-state boundary.

# Contract

Put/Get/Delete/DeletePrefix/Range(prefix, page) map onto a
strongly-consistent KV store keyed by "<api-version>/<object-kind>/<id>".
LeaseLock grants the service-wide single-leader lock; losing it is
fatal and the holder must shut the process down.

# Backing implementation

EtcdStore is the production implementation, built on
go.etcd.io/etcd/client/v3: Put/Get/Delete map directly, DeletePrefix uses
clientv3.WithPrefix(), Range pages with WithLimit and starts later
pages at the continuation key with WithRange up to the prefix end, and
LeaseLock is a concurrency.Session-backed concurrency.Mutex — closing
the session IS losing the lease, so Lost() is simply session.Done().

MemStore is an in-memory stand-in with the same contract, used by every
other package's tests.

# Versioning

An earlier product version wrote values under the v1 prefix; Migrate
moves each key to v2 and deletes the v1 copy, one key (one Put + one
Delete) at a time. The Put and the Delete are separate writes, not one
transaction: a crash between them leaves the key under both prefixes
until the next run. The core runs Migrate once on startup, before the registry
populates; corectl-migrate exposes the same routine as a standalone
operator tool with a --dry-run flag.
*/
package store
