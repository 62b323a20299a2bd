package txn

import (
	"context"

	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
)

// DirtyKind classifies a spec found during startup/periodic incomplete-op
// scanning, mirroring operation_result() from §4.4.
type DirtyKind int

const (
	// NotDirty: no pending op, or a pending op awaiting a fresh ACK
	// that the reconciler should simply leave alone this pass.
	NotDirty DirtyKind = iota
	// RecommitLost: the node-side effect completed but the commit put
	// may have been lost. Re-commit.
	RecommitLost
	// RollbackLost: the node-side effect failed but the rollback put
	// may have been lost. Re-clear.
	RollbackLost
	// CrashBeforeAck: the crash happened before the side-effect ACK
	// arrived. Pessimistically clear and let the caller retry from scratch.
	CrashBeforeAck
)

// Classify inspects a spec's pending op the way operation_result()
// does, and reports which recovery branch applies.
func Classify[T any, PT TxnPtr[T]](spec *T) DirtyKind {
	pt := PT(spec)
	pending := pt.TxnPending()
	if pending == nil {
		return NotDirty
	}
	if !pending.HasResult() {
		return CrashBeforeAck
	}
	if *pending.OpResult {
		return RecommitLost
	}
	return RollbackLost
}

// Recover runs one incomplete-op recovery pass over a single spec,
// per the dispatch in §4.4's "Incomplete-op recovery". commitFields
// re-applies whatever kind-specific commit fields the spec needs when
// the recovery branch is RecommitLost; for kinds that persist no
// derived fields on commit (most of them), pass a no-op.
func Recover[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, reg *registry.Registry[T], entry *registry.Locked[T], kind, id string, commitFields func(*T)) (DirtyKind, error) {
	var dk DirtyKind
	var clone T
	var pendingKind types.OpKind

	entry.Update(func(spec *T) {
		pt := PT(spec)
		dk = Classify[T, PT](spec)
		if pending := pt.TxnPending(); pending != nil {
			pendingKind = pending.Kind
		}

		switch dk {
		case NotDirty:
			return
		case RecommitLost:
			if commitFields != nil {
				commitFields(spec)
			}
			pt.SetTxnStatus(types.Created)
			pt.SetTxnPending(nil)
		case RollbackLost, CrashBeforeAck:
			pt.SetTxnPending(nil)
			if pt.TxnStatus() == types.Creating {
				// OnCreateFail::SetDeleting: hand off to the garbage
				// collector rather than reclaim side effects inline.
				pt.SetTxnStatus(types.Deleting)
			}
		}
		clone = *spec
	})

	if dk == NotDirty {
		return dk, nil
	}

	// RollbackLost on a Destroy op means the node-side destroy already
	// succeeded and only the commit-time PSC delete was lost
	// (DestroyComplete's op_result=false path) — §4.6 "PSC delete
	// failed on destroy" calls for retrying the delete and removing
	// from RR, not re-persisting the spec.
	if dk == RollbackLost && pendingKind == types.OpDestroy {
		if err := s.Delete(ctx, store.Key(kind, id)); err != nil {
			return dk, err
		}
		reg.Remove(id)
		return dk, nil
	}

	if err := put(ctx, s, kind, id, clone); err != nil {
		return dk, err
	}
	return dk, nil
}
