/*
Package registry implements the Resource Registry: one Registry[T] per
resource kind, each entry a Locked[T] carrying its own short
critical-section mutex plus the Operation Sequencer's guard.Cell.

On startup, Populate range-scans the Persistent Store Client for every
kind and loads the registries, then Backfill derives the relationships
the store never persists directly: replica -> owning-nexus back-
references, volume -> snapshot-id lists, and snapshot -> restoring-
volume back-references.

Lock ordering: a caller locates an entry through the (reader-writer
locked) Registry map, then locks that entry's own mutex — never the
reverse — and never holds the entry's mutex across an I/O suspension.
*/
package registry
