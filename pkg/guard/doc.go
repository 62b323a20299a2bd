/*
Package guard implements the Operation Sequencer: the per-spec
exclusivity guard a composite workflow holds for its whole duration.

Acquisition is an atomic compare-and-swap on a Cell embedded in the
spec's registry entry (see pkg/registry.Locked) — no separate lock table
is needed. TryAcquire never blocks; Acquire retries up to 5 times, 200ms
apart, before giving up with ErrBusy, matching the "waiting variant"
described for callers that can tolerate a short stall (e.g. a composite
workflow contending with the reconciler) versus callers that want to
fail fast.

Only Exclusive mode is implemented; Mode exists so a future read-shared
mode can be added without changing every call site.
*/
package guard
