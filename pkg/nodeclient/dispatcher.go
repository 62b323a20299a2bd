package nodeclient

import (
	"context"
	"fmt"
	"sync"
)

// EndpointResolver looks up a node's dial endpoint and capability set,
// so the dispatcher never has to know about the registry directly.
type EndpointResolver func(nodeID string) (endpoint string, capabilities []string, ok bool)

// Dispatcher lazily dials and caches one Client per node id. Composite
// workflows and the reconciler go through a Dispatcher rather than
// dialing nodes directly, so a single node's connection is reused
// across the many RPCs one workflow (or many concurrent workflows)
// issues to it.
type Dispatcher struct {
	resolve EndpointResolver

	mu      sync.Mutex
	clients map[string]*Client
}

// NewDispatcher builds a Dispatcher that resolves node endpoints
// through resolve.
func NewDispatcher(resolve EndpointResolver) *Dispatcher {
	return &Dispatcher{
		resolve: resolve,
		clients: make(map[string]*Client),
	}
}

// For returns the cached Client for nodeID, dialing it on first use.
func (d *Dispatcher) For(ctx context.Context, nodeID string) (*Client, error) {
	d.mu.Lock()
	if c, ok := d.clients[nodeID]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	endpoint, capabilities, ok := d.resolve(nodeID)
	if !ok {
		return nil, fmt.Errorf("nodeclient: unknown node %s", nodeID)
	}

	c, err := Dial(ctx, endpoint, capabilities)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if existing, ok := d.clients[nodeID]; ok {
		d.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	d.clients[nodeID] = c
	d.mu.Unlock()
	return c, nil
}

// Forget closes and evicts a cached client, e.g. after a node is
// observed unreachable so the next call re-dials.
func (d *Dispatcher) Forget(nodeID string) {
	d.mu.Lock()
	c, ok := d.clients[nodeID]
	delete(d.clients, nodeID)
	d.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close tears down every cached connection.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.clients {
		_ = c.Close()
		delete(d.clients, id)
	}
	return nil
}
