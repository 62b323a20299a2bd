/*
Package types defines the control-plane resource specs shared by the
registry, the transactional operation engine, and the composite
workflows: Node, Pool, Replica, Nexus, Volume, VolumeSnapshot,
AffinityGroup and AppNode.

Every mutable spec (Pool, Replica, Nexus, Volume, VolumeSnapshot) embeds
a SpecStatus and an optional PendingOperation. The pending operation is
the TOE's intent log: it is persisted as part of the spec value itself,
so a crash between the intent-log write and the commit write leaves
enough state in the store for the reconciler to resume (see pkg/txn).
*/
package types
