package volume

import "github.com/cuemby/corectl/pkg/corerrors"

// ErrServiceBusy is returned when a create-volume request cannot
// acquire a capacity-limiter permit within the configured timeout (§5).
var ErrServiceBusy = corerrors.New(corerrors.ServiceBusy, "volume", "")

func errNotFound(kind, id string) error {
	return corerrors.New(corerrors.NotFound, kind, id)
}

func errReplicaCreateNumber(volumeID string) error {
	return corerrors.New(corerrors.ReplicaCreateNumber, "volume", volumeID)
}

func errSnapshotMaxLimit(volumeID string) error {
	return corerrors.New(corerrors.SnapshotMaxLimit, "volume", volumeID)
}

func errFrontendNodeNotAllowed(volumeID string) error {
	return corerrors.New(corerrors.FrontendNodeNotAllowed, "volume", volumeID)
}

func errInvalidArguments(kind, id, msg string) error {
	return corerrors.New(corerrors.InvalidArguments, kind, id).Withf("%s", msg)
}
