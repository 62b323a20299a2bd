package txn

import (
	"context"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
)

// StartOpFunc is the kind-specific "start_update_op": it validates the
// requested transition against the spec's current kind-state, and on
// success records whatever pending op the commit step will need and
// reports whether the intent needs to be logged to PSC at all (some
// micro-updates, e.g. a label change, commit without ever going
// through the intent-log write).
type StartOpFunc[T any] func(spec *T) (needsLog bool, err error)

// AllowedStatuses lists the statuses an update operation is admissible
// from. Most operations require Created; a few (e.g. attaching the
// first replica to a volume still Creating) explicitly permit
// Creating or Deleting.
type AllowedStatuses struct {
	Created  bool
	Creating bool
	Deleting bool
}

func (a AllowedStatuses) allows(s types.SpecStatus) bool {
	switch s {
	case types.Created:
		return a.Created
	case types.Creating:
		return a.Creating
	case types.Deleting:
		return a.Deleting
	default:
		return false
	}
}

// DefaultAllowedStatuses permits an update only while Created, the
// common case for every update operation in §4.5 except the in-flight
// attach steps composite creates perform on themselves.
var DefaultAllowedStatuses = AllowedStatuses{Created: true}

// UpdateStart runs step 1-2 of the update protocol: status admissibility,
// busy check, the kind-specific start_update_op, and (if needsLog) the
// intent-log put. It returns a clone of the spec as it stands after
// start_update_op ran.
func UpdateStart[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, allowed AllowedStatuses, startOp StartOpFunc[T]) (T, error) {
	var clone T
	var opErr error
	var needsLog bool

	entry.Update(func(spec *T) {
		pt := PT(spec)
		if !allowed.allows(pt.TxnStatus()) {
			if pt.TxnStatus() == types.Creating {
				opErr = corerrors.New(corerrors.PendingCreation, kind, id)
			} else {
				opErr = corerrors.New(corerrors.PendingDeletion, kind, id)
			}
			return
		}
		if pt.TxnPending() != nil {
			opErr = corerrors.New(corerrors.Busy, kind, id)
			return
		}

		needsLog, opErr = startOp(spec)
		clone = *spec
	})

	if opErr != nil {
		return clone, opErr
	}
	if !needsLog {
		return clone, nil
	}

	if err := PersistIntent[T, PT](ctx, s, entry, kind, id, clone); err != nil {
		return clone, err
	}
	return clone, nil
}

// UpdateComplete runs step 3-4 of the update protocol. On node-side
// success, result.Apply is committed in memory and, if storeObj is
// true, persisted; a failed commit put marks the spec dirty
// (op_result=true). On node-side failure the pending op is cleared
// in memory and, if the intent was logged, the cleared spec is
// persisted; a failed clear-put marks the spec dirty (op_result=false).
func UpdateComplete[T any, PT TxnPtr[T]](ctx context.Context, s store.Store, entry *registry.Locked[T], kind, id string, result Result[T], logged bool, storeObj bool) (T, error) {
	var clone T

	if result.Err != nil {
		entry.Update(func(spec *T) {
			PT(spec).SetTxnPending(nil)
			clone = *spec
		})
		if logged {
			if err := put(ctx, s, kind, id, clone); err != nil {
				entry.Update(func(spec *T) {
					PT(spec).SetTxnPending(dirtyOp(types.OpUpdate, false))
				})
				return clone, result.Err
			}
		}
		return clone, result.Err
	}

	entry.Update(func(spec *T) {
		result.Apply(spec)
		PT(spec).SetTxnPending(nil)
		clone = *spec
	})

	if !storeObj {
		return clone, nil
	}

	if err := put(ctx, s, kind, id, clone); err != nil {
		entry.Update(func(spec *T) {
			PT(spec).SetTxnPending(dirtyOp(types.OpUpdate, true))
		})
		return clone, corerrors.Wrap(corerrors.StoreDirty, kind, id, err)
	}
	return clone, nil
}
