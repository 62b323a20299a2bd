package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
)

// Kind names the PSC object-kind prefixes for each resource registry.
const (
	KindNode     = "node"
	KindPool     = "pool"
	KindReplica  = "replica"
	KindNexus    = "nexus"
	KindVolume   = "volume"
	KindSnapshot = "snapshot"
	KindAppNode  = "app_node"
)

// Registries is the umbrella RR: one lockable-spec map per resource
// kind. It is the single in-memory source of truth the composite
// workflows read and mutate through.
type Registries struct {
	Nodes     *Registry[types.Node]
	Pools     *Registry[types.Pool]
	Replicas  *Registry[types.Replica]
	Nexuses   *Registry[types.Nexus]
	Volumes   *Registry[types.Volume]
	Snapshots *Registry[types.VolumeSnapshot]
	AppNodes  *Registry[types.AppNode]
}

// NewRegistries creates empty registries for every resource kind.
func NewRegistries() *Registries {
	return &Registries{
		Nodes:     New[types.Node](),
		Pools:     New[types.Pool](),
		Replicas:  New[types.Replica](),
		Nexuses:   New[types.Nexus](),
		Volumes:   New[types.Volume](),
		Snapshots: New[types.VolumeSnapshot](),
		AppNodes:  New[types.AppNode](),
	}
}

// Populate range-scans PSC for every persisted kind and loads the
// registries, then performs the runtime backfill described in §4.2:
// derived relationships that are never themselves persisted.
func Populate(ctx context.Context, s store.Store, rr *Registries) error {
	if err := populateKind(ctx, s, KindNode, rr.Nodes); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindPool, rr.Pools); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindReplica, rr.Replicas); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindNexus, rr.Nexuses); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindVolume, rr.Volumes); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindSnapshot, rr.Snapshots); err != nil {
		return err
	}
	if err := populateKind(ctx, s, KindAppNode, rr.AppNodes); err != nil {
		return err
	}

	Backfill(rr)
	return nil
}

// AffinityGroups derives the AffinityGroup view (§3: "not persisted")
// from Volume.AffinityGroupID at query time. Volumes without an
// affinity group id are omitted; the ordering follows Volumes.Values'
// insertion order for a stable listing.
func (rr *Registries) AffinityGroups() []types.AffinityGroup {
	order := make([]string, 0)
	byID := make(map[string]*types.AffinityGroup)

	for _, volEntry := range rr.Volumes.Values() {
		vol := volEntry.Clone()
		if vol.AffinityGroupID == "" {
			continue
		}
		group, ok := byID[vol.AffinityGroupID]
		if !ok {
			group = &types.AffinityGroup{ID: vol.AffinityGroupID}
			byID[vol.AffinityGroupID] = group
			order = append(order, vol.AffinityGroupID)
		}
		group.VolumeIDs = append(group.VolumeIDs, vol.ID)
	}

	groups := make([]types.AffinityGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}
	return groups
}

func populateKind[T any](ctx context.Context, s store.Store, kind string, reg *Registry[T]) error {
	prefix := store.Prefix(kind)
	items := make(map[string]T)

	startKey := ""
	for {
		page, cont, err := s.Range(ctx, prefix, startKey, 200)
		if err != nil {
			return fmt.Errorf("registry: populate %s: %w", kind, err)
		}
		for _, entry := range page.Entries {
			_, id, ok := store.SplitKey(entry.Key)
			if !ok {
				continue
			}
			var v T
			if err := json.Unmarshal(entry.Value, &v); err != nil {
				return fmt.Errorf("registry: decode %s %s: %w", kind, id, err)
			}
			items[id] = v
		}
		if !page.More {
			break
		}
		startKey = cont
	}

	reg.Populate(items)
	return nil
}
