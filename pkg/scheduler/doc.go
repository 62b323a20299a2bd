/*
Package scheduler implements the pool-placement and move-candidate
oracle composite workflows call into for replica creation (§4.5.1),
set-replica/move-replica (§4.5.5), and publish target selection
(§4.5.2). Placement policy is explicitly out of scope for the engine
protocols themselves; this package supplies one concrete, swappable
policy.
*/
package scheduler
