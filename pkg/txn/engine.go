// Package txn implements the Transactional Operation Engine (TOE): the
// generic two-phase create/update/destroy protocol every resource kind
// runs through, parameterized over the spec type by the TxnPtr
// constraint (types.TxnSpec implemented on a pointer receiver).
//
// Every composite operation writes its intent to the Persistent Store
// Client before issuing node-side RPCs (the intent log), then commits
// or rolls back in a second, narrower write. A failed second write
// marks the in-memory spec dirty via PendingOperation.OpResult so the
// reconciler's incomplete-op recovery (recovery.go) can finish the job
// after a crash.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
)

// TxnPtr constrains a generic TOE call to a pointer type implementing
// types.TxnSpec, so the engine can read/write Status and Pending
// without every resource kind hand-writing the protocol.
type TxnPtr[T any] interface {
	*T
	types.TxnSpec
}

// Result is the outcome of a node-side effect: whether it succeeded
// and, on success, the mutation to apply to the spec at commit time.
type Result[T any] struct {
	Err   error
	Apply func(*T)
}

// Ok builds a successful Result that applies the given mutation at commit.
func Ok[T any](apply func(*T)) Result[T] {
	return Result[T]{Apply: apply}
}

// Failed builds a failed Result.
func Failed[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// CreateStart runs step 1 of the create protocol (§4.4) under the
// entry's lock: idempotent-retry / already-exists / deleting checks,
// and on a first attempt, transitions the spec to Creating and records
// the intent. It returns a clone of the spec as it now stands in
// memory — callers persist this clone via PSC put as the intent log.
func CreateStart[T any, PT TxnPtr[T]](entry *registry.Locked[T], kind, id string, request interface{}) (T, error) {
	var clone T
	var opErr error

	entry.Update(func(spec *T) {
		pt := PT(spec)
		switch pt.TxnStatus() {
		case types.Created:
			opErr = corerrors.New(corerrors.AlreadyExists, kind, id)
		case types.Deleting, types.Deleted:
			opErr = corerrors.New(corerrors.PendingDeletion, kind, id)
		case types.Creating:
			pending := pt.TxnPending()
			if pending == nil || !reflect.DeepEqual(pending.Request, request) {
				opErr = corerrors.New(corerrors.ReCreateMismatch, kind, id)
				return
			}
			// Idempotent retry of the same request: fall through with
			// the existing pending op, no new intent write needed.
		default:
			pt.SetTxnStatus(types.Creating)
			pt.SetTxnPending(&types.PendingOperation{
				Kind:      types.OpCreate,
				Name:      "Create",
				Request:   request,
				StartedAt: time.Now(),
			})
		}
		clone = *spec
	})

	return clone, opErr
}

// PersistIntent writes the spec (with its pending op) to PSC. On
// failure the pending op is cleared in memory — the caller never
// issued a node-side effect, so there's nothing to roll back.
func PersistIntent[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, spec T) error {
	if err := put(ctx, s, kind, id, spec); err != nil {
		entry.Update(func(cur *T) {
			PT(cur).SetTxnPending(nil)
		})
		return corerrors.Wrap(corerrors.Store, kind, id, err)
	}
	return nil
}

// CreateComplete runs step 4/5 of the create protocol: on success it
// applies result.Apply, clears the pending op, sets status Created,
// and commits via PSC put; a failed commit put leaves the spec dirty
// (op_result=true) for the reconciler to retry. On node-side failure
// it dispatches per onFail.
func CreateComplete[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, result Result[T], onFail OnCreateFailFunc) (T, error) {
	if result.Err != nil {
		return dispatchCreateFail[T, PT](ctx, s, entry, kind, id, result.Err, onFail)
	}

	var clone T
	entry.Update(func(spec *T) {
		result.Apply(spec)
		PT(spec).SetTxnStatus(types.Created)
		PT(spec).SetTxnPending(nil)
		clone = *spec
	})

	if err := put(ctx, s, kind, id, clone); err != nil {
		entry.Update(func(spec *T) {
			PT(spec).SetTxnPending(dirtyOp(types.OpCreate, true))
		})
		return clone, corerrors.Wrap(corerrors.StoreDirty, kind, id, err)
	}
	return clone, nil
}

// OnCreateFailFunc decides the OnCreateFail policy for a node-side
// create failure. corerrors.EinvalDelete implements the
// eeinval_delete(result) derivation from §4.4.
type OnCreateFailFunc func(err error) types.OnCreateFail

// DefaultOnCreateFail implements eeinval_delete: InvalidArgument/
// NotFound before any retryable step ran means Delete; everything else
// means SetDeleting so the garbage collector can reclaim side effects.
func DefaultOnCreateFail(err error) types.OnCreateFail {
	if corerrors.EinvalDelete(err) {
		return types.OnCreateFailDelete
	}
	return types.OnCreateFailSetDeleting
}

func dispatchCreateFail[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, cause error, onFail OnCreateFailFunc) (T, error) {
	policy := types.OnCreateFailLeaveAsIs
	if onFail != nil {
		policy = onFail(cause)
	}

	var clone T
	var deleted bool
	entry.Update(func(spec *T) {
		pt := PT(spec)
		switch policy {
		case types.OnCreateFailLeaveAsIs:
			pt.SetTxnPending(nil)
		case types.OnCreateFailSetDeleting:
			pt.SetTxnStatus(types.Deleting)
			pt.SetTxnPending(nil)
		case types.OnCreateFailDelete:
			deleted = true
		}
		clone = *spec
	})

	if deleted {
		_ = del(ctx, s, kind, id) // best-effort; spec was never durably Created
		return clone, cause
	}

	if err := put(ctx, s, kind, id, clone); err != nil {
		entry.Update(func(spec *T) {
			PT(spec).SetTxnPending(dirtyOp(types.OpCreate, false))
		})
		return clone, fmt.Errorf("%w (and persisting the rollback failed: %v)", cause, err)
	}
	return clone, cause
}

// DestroyStart runs step 1 of the destroy protocol: busy check,
// disowner removal, InUse short-circuit, else transition to Deleting
// and record the intent.
func DestroyStart[T any, PT TxnPtr[T]](entry *registry.Locked[T], kind, id string, disown func(*T) (ownersEmpty bool)) (T, error) {
	var clone T
	var opErr error

	entry.Update(func(spec *T) {
		pt := PT(spec)
		if pt.TxnStatus() == types.Deleted {
			clone = *spec
			return
		}
		if pt.TxnPending() != nil {
			opErr = corerrors.New(corerrors.Busy, kind, id)
			return
		}

		ownersEmpty := disown(spec)
		if !ownersEmpty {
			opErr = corerrors.New(corerrors.InUse, kind, id)
			return
		}

		pt.SetTxnStatus(types.Deleting)
		pt.SetTxnPending(&types.PendingOperation{
			Kind:      types.OpDestroy,
			Name:      "Destroy",
			StartedAt: time.Now(),
		})
		clone = *spec
	})

	return clone, opErr
}

// DestroyComplete runs step 4 of the destroy protocol: on node-side
// success it deletes the spec from PSC then removes it from RR; a
// failed PSC delete marks the spec dirty (op_result=false) for the
// reconciler to retry.
func DestroyComplete[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, reg *registry.Registry[T], entry *registry.Locked[T], kind, id string, nodeErr error) error {
	if nodeErr != nil {
		// Per §4.4: node-side destroy errors short-circuit the owning
		// composite's remaining steps but do not themselves block this
		// spec's own delete — the caller decides whether to proceed.
		return nodeErr
	}

	if err := s.Delete(ctx, store.Key(kind, id)); err != nil {
		entry.Update(func(spec *T) {
			PT(spec).SetTxnPending(dirtyOp(types.OpDestroy, false))
		})
		return corerrors.Wrap(corerrors.StoreDirty, kind, id, err)
	}

	reg.Remove(id)
	return nil
}

// ValidateStep clears the pending op and persists on an intermediate
// composite-update failure, leaving the spec consistent for a retry,
// then surfaces the original error.
func ValidateStep[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, stepErr error) error {
	if stepErr == nil {
		return nil
	}

	var clone T
	entry.Update(func(spec *T) {
		PT(spec).SetTxnPending(nil)
		clone = *spec
	})

	if err := put(ctx, s, kind, id, clone); err != nil {
		return fmt.Errorf("%w (and clearing the intent failed: %v)", stepErr, err)
	}
	return stepErr
}

func dirtyOp(kind types.OpKind, result bool) *types.PendingOperation {
	return &types.PendingOperation{Kind: kind, Name: "dirty", OpResult: &result, StartedAt: time.Now()}
}

func put[T any](ctx context.Context, s store.Store, kind, id string, spec T) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("txn: marshal %s %s: %w", kind, id, err)
	}
	return s.Put(ctx, store.Key(kind, id), data)
}

func del(ctx context.Context, s store.Store, kind, id string) error {
	return s.Delete(ctx, store.Key(kind, id))
}
