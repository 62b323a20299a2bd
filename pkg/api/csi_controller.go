package api

import (
	"context"
	"strconv"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/cuemby/corectl/pkg/log"
	"github.com/cuemby/corectl/pkg/types"
	"github.com/cuemby/corectl/pkg/volume"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const driverName = "corectl.cuemby.io"

// ControllerServer implements the CSI Controller service (node-side
// mount/unmount is explicitly out of scope) over volume.Service.
type ControllerServer struct {
	csi.UnimplementedControllerServer

	svc    *volume.Service
	logger zerolog.Logger
}

// NewControllerServer builds a ControllerServer around svc.
func NewControllerServer(svc *volume.Service) *ControllerServer {
	return &ControllerServer{svc: svc, logger: log.WithComponent("api.csi")}
}

// IdentityServer implements the CSI Identity service.
type IdentityServer struct {
	csi.UnimplementedIdentityServer

	driverVersion string
}

// NewIdentityServer builds an IdentityServer reporting driverVersion.
func NewIdentityServer(driverVersion string) *IdentityServer {
	return &IdentityServer{driverVersion: driverVersion}
}

func (s *IdentityServer) GetPluginInfo(context.Context, *csi.GetPluginInfoRequest) (*csi.GetPluginInfoResponse, error) {
	return &csi.GetPluginInfoResponse{Name: driverName, VendorVersion: s.driverVersion}, nil
}

func (s *IdentityServer) GetPluginCapabilities(context.Context, *csi.GetPluginCapabilitiesRequest) (*csi.GetPluginCapabilitiesResponse, error) {
	return &csi.GetPluginCapabilitiesResponse{
		Capabilities: []*csi.PluginCapability{
			{
				Type: &csi.PluginCapability_Service_{
					Service: &csi.PluginCapability_Service{
						Type: csi.PluginCapability_Service_CONTROLLER_SERVICE,
					},
				},
			},
		},
	}, nil
}

func (s *IdentityServer) Probe(context.Context, *csi.ProbeRequest) (*csi.ProbeResponse, error) {
	return &csi.ProbeResponse{}, nil
}

func (cs *ControllerServer) ControllerGetCapabilities(context.Context, *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	caps := []csi.ControllerServiceCapability_RPC_Type{
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME,
		csi.ControllerServiceCapability_RPC_PUBLISH_UNPUBLISH_VOLUME,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES,
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_SNAPSHOT,
	}
	out := make([]*csi.ControllerServiceCapability, 0, len(caps))
	for _, c := range caps {
		out = append(out, &csi.ControllerServiceCapability{
			Type: &csi.ControllerServiceCapability_Rpc{
				Rpc: &csi.ControllerServiceCapability_RPC{Type: c},
			},
		})
	}
	return &csi.ControllerGetCapabilitiesResponse{Capabilities: out}, nil
}

// CreateVolume translates a CSI create request into volume.Create. The
// CSI name becomes the volume's UUID: idempotent re-create is handled
// by the Transactional Operation Engine's own re-create-matches check,
// not by this shim.
func (cs *ControllerServer) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	if req.GetName() == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	sizeBytes := uint64(req.GetCapacityRange().GetRequiredBytes())
	if sizeBytes == 0 {
		sizeBytes = uint64(req.GetCapacityRange().GetLimitBytes())
	}

	replicaCount := 1
	maxSnapshots := 0
	if params := req.GetParameters(); params != nil {
		if v, ok := params["replicaCount"]; ok {
			replicaCount = parseIntDefault(v, replicaCount)
		}
		if v, ok := params["maxSnapshots"]; ok {
			maxSnapshots = parseIntDefault(v, maxSnapshots)
		}
	}

	result, err := cs.svc.Create(ctx, volume.CreateRequest{
		UUID:         req.GetName(),
		Name:         req.GetName(),
		SizeBytes:    sizeBytes,
		ReplicaCount: replicaCount,
		MaxSnapshots: maxSnapshots,
	})
	if err != nil {
		return nil, translateToGRPC(err)
	}

	return &csi.CreateVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:      result.ID,
			CapacityBytes: int64(result.SizeBytes),
		},
	}, nil
}

// ListVolumes backs the LIST_VOLUMES capability advertised in
// ControllerGetCapabilities. Pagination tokens are not supported
// (entries are returned in one page) since the registry listing is
// in-memory and small enough not to need server-side cursoring here.
func (cs *ControllerServer) ListVolumes(ctx context.Context, req *csi.ListVolumesRequest) (*csi.ListVolumesResponse, error) {
	vols, err := cs.svc.ListVolumes(types.Filter{Kind: types.FilterNone})
	if err != nil {
		return nil, translateToGRPC(err)
	}
	entries := make([]*csi.ListVolumesResponse_Entry, 0, len(vols))
	for _, v := range vols {
		entries = append(entries, &csi.ListVolumesResponse_Entry{
			Volume: &csi.Volume{
				VolumeId:      v.ID,
				CapacityBytes: int64(v.SizeBytes),
			},
		})
	}
	return &csi.ListVolumesResponse{Entries: entries}, nil
}

func (cs *ControllerServer) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}
	if err := cs.svc.Destroy(ctx, req.GetVolumeId()); err != nil && corerrors.CodeOf(err) != corerrors.NotFound {
		return nil, translateToGRPC(err)
	}
	return &csi.DeleteVolumeResponse{}, nil
}

// ControllerPublishVolume maps the CSI "attach to node" step onto a
// volume publish targeting the requested node.
func (cs *ControllerServer) ControllerPublishVolume(ctx context.Context, req *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	if req.GetVolumeId() == "" || req.GetNodeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id and node_id are required")
	}
	result, err := cs.svc.Publish(ctx, volume.PublishRequest{
		VolumeID:      req.GetVolumeId(),
		ShareProtocol: types.ShareNVMf,
		AllowedHosts:  []string{req.GetNodeId()},
	})
	if err != nil {
		return nil, translateToGRPC(err)
	}
	ctx2 := map[string]string{}
	if result.Target != nil {
		ctx2["nexus_id"] = result.Target.NexusID
	}
	return &csi.ControllerPublishVolumeResponse{PublishContext: ctx2}, nil
}

func (cs *ControllerServer) ControllerUnpublishVolume(ctx context.Context, req *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}
	// Unpublish has no standalone teardown distinct from destroy's
	// nexus cleanup or a future republish's shutdown step; CSI callers
	// that need the target gone without deleting the volume should use
	// republish with ReuseNever against a null target, which this
	// driver does not currently expose over CSI.
	return &csi.ControllerUnpublishVolumeResponse{}, nil
}

func (cs *ControllerServer) ValidateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}
	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeContext:      req.GetVolumeContext(),
			VolumeCapabilities: req.GetVolumeCapabilities(),
			Parameters:         req.GetParameters(),
		},
	}, nil
}

func (cs *ControllerServer) CreateSnapshot(ctx context.Context, req *csi.CreateSnapshotRequest) (*csi.CreateSnapshotResponse, error) {
	if req.GetSourceVolumeId() == "" || req.GetName() == "" {
		return nil, status.Error(codes.InvalidArgument, "source_volume_id and name are required")
	}
	result, err := cs.svc.CreateSnapshot(ctx, volume.CreateSnapshotRequest{
		SnapshotID: req.GetName(),
		VolumeID:   req.GetSourceVolumeId(),
	})
	if err != nil {
		return nil, translateToGRPC(err)
	}
	return &csi.CreateSnapshotResponse{
		Snapshot: &csi.Snapshot{
			SnapshotId:     result.ID,
			SourceVolumeId: result.SourceVolume,
			ReadyToUse:     true,
		},
	}, nil
}

func (cs *ControllerServer) DeleteSnapshot(ctx context.Context, req *csi.DeleteSnapshotRequest) (*csi.DeleteSnapshotResponse, error) {
	if req.GetSnapshotId() == "" {
		return nil, status.Error(codes.InvalidArgument, "snapshot_id is required")
	}
	if err := cs.svc.DestroySnapshot(ctx, req.GetSnapshotId()); err != nil {
		return nil, translateToGRPC(err)
	}
	return &csi.DeleteSnapshotResponse{}, nil
}

// translateToGRPC maps the categorical taxonomy onto gRPC status codes,
// mirroring nodeclient's translation the other direction.
func translateToGRPC(err error) error {
	switch corerrors.CodeOf(err) {
	case corerrors.NotFound:
		return status.Error(codes.NotFound, err.Error())
	case corerrors.InvalidArguments, corerrors.InvalidUUID, corerrors.InvalidFilter:
		return status.Error(codes.InvalidArgument, err.Error())
	case corerrors.AlreadyExists, corerrors.ReCreateMismatch:
		return status.Error(codes.AlreadyExists, err.Error())
	case corerrors.Busy, corerrors.ServiceBusy, corerrors.PendingCreation, corerrors.PendingDeletion, corerrors.InUse:
		return status.Error(codes.Aborted, err.Error())
	case corerrors.NotEnoughResources, corerrors.ReplicaCreateNumber, corerrors.SnapshotMaxLimit, corerrors.FrontendNodeNotAllowed:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n == 0 {
		return def
	}
	return n
}
