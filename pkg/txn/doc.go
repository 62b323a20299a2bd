/*
Package txn implements the Transactional Operation Engine: the
generic, two-phase create/update/destroy protocol every resource kind
runs its composite workflow through (pkg/volume), plus the incomplete-
op recovery dispatch the reconciler runs on startup and on its sweep
ticks.

Callers provide the kind-specific pieces — the node-side effect, the
fields a commit applies, the OnCreateFail policy — and the engine
owns the locking, intent-log ordering, and dirty-marking common to
every kind.
*/
package txn
