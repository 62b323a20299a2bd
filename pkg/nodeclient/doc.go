/*
Package nodeclient implements the Node Client: a thin, versioned RPC
dispatcher to per-node data-plane agents, covering the host, pool,
replica, and nexus families described in the external interfaces. A
Dispatcher lazily dials and caches one *Client per node id; a *Client
exposes the four API families over a plain gRPC connection carrying a
JSON-coded payload instead of compiled protobuf, since the wire format
of node RPCs is explicitly left parametric.
*/
package nodeclient
