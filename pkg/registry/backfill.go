package registry

import "github.com/cuemby/corectl/pkg/types"

// Backfill performs the runtime backfill RR does after populating from
// PSC — relationships that are derived, not persisted (§4.2):
//
//  1. For every replica, for every nexus whose children include that
//     replica's URI, add the nexus's id to the replica's owners.
//  2. For every snapshot, register the snapshot id on its source volume.
//  3. For every volume whose content-source is a snapshot, register the
//     restore relationship on that snapshot.
func Backfill(rr *Registries) {
	backfillReplicaNexusOwners(rr)
	backfillVolumeSnapshotIDs(rr)
	backfillSnapshotRestoredBy(rr)
}

func backfillReplicaNexusOwners(rr *Registries) {
	nexusesByChildURI := make(map[string][]string)
	for _, nexusEntry := range rr.Nexuses.Values() {
		nexus := nexusEntry.Clone()
		for _, child := range nexus.Children {
			nexusesByChildURI[child.URI] = append(nexusesByChildURI[child.URI], nexus.ID)
		}
	}

	for _, replicaEntry := range rr.Replicas.Values() {
		replica := replicaEntry.Clone()
		nexusIDs := nexusesByChildURI[replica.URI]
		if len(nexusIDs) == 0 {
			continue
		}
		replicaEntry.Update(func(r *types.Replica) {
			for _, nexusID := range nexusIDs {
				if !containsString(r.Owners.Nexuses, nexusID) {
					r.Owners.Nexuses = append(r.Owners.Nexuses, nexusID)
				}
			}
		})
	}
}

func backfillVolumeSnapshotIDs(rr *Registries) {
	for _, snapEntry := range rr.Snapshots.Values() {
		snap := snapEntry.Clone()
		if snap.SourceVolume == "" {
			continue
		}
		volEntry, ok := rr.Volumes.Get(snap.SourceVolume)
		if !ok {
			continue
		}
		volEntry.Update(func(v *types.Volume) {
			if !containsString(v.SnapshotIDs, snap.ID) {
				v.SnapshotIDs = append(v.SnapshotIDs, snap.ID)
			}
		})
	}
}

func backfillSnapshotRestoredBy(rr *Registries) {
	for _, volEntry := range rr.Volumes.Values() {
		vol := volEntry.Clone()
		if vol.ContentSource.SnapshotID == "" {
			continue
		}
		snapEntry, ok := rr.Snapshots.Get(vol.ContentSource.SnapshotID)
		if !ok {
			continue
		}
		snapEntry.Update(func(s *types.VolumeSnapshot) {
			if !containsString(s.RestoredBy, vol.ID) {
				s.RestoredBy = append(s.RestoredBy, vol.ID)
			}
		})
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
