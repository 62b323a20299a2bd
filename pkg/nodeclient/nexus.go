package nodeclient

import (
	"context"

	"google.golang.org/grpc"
)

// NexusAPI creates, destroys, publishes, and reshapes nexuses on a node.
type NexusAPI interface {
	Create(ctx context.Context, req CreateNexusRequest) (CreateNexusResult, error)
	Destroy(ctx context.Context, req DestroyNexusRequest) error
	Publish(ctx context.Context, req PublishNexusRequest) (PublishNexusResult, error)
	Unpublish(ctx context.Context, req UnpublishNexusRequest) error
	AddChild(ctx context.Context, req AddChildRequest) error
	RemoveChild(ctx context.Context, req RemoveChildRequest) error
	Shutdown(ctx context.Context, req ShutdownNexusRequest) error
}

type nexusV1 struct {
	conn *grpc.ClientConn
}

func (n *nexusV1) Create(ctx context.Context, req CreateNexusRequest) (CreateNexusResult, error) {
	var result CreateNexusResult
	err := invoke(ctx, n.conn, "/nodeapi.v1.Nexus/Create", &req, &result)
	return result, err
}

func (n *nexusV1) Destroy(ctx context.Context, req DestroyNexusRequest) error {
	var ack Ack
	return invoke(ctx, n.conn, "/nodeapi.v1.Nexus/Destroy", &req, &ack)
}

func (n *nexusV1) Publish(ctx context.Context, req PublishNexusRequest) (PublishNexusResult, error) {
	var result PublishNexusResult
	err := invoke(ctx, n.conn, "/nodeapi.v1.Nexus/Publish", &req, &result)
	return result, err
}

func (n *nexusV1) Unpublish(ctx context.Context, req UnpublishNexusRequest) error {
	var ack Ack
	return invoke(ctx, n.conn, "/nodeapi.v1.Nexus/Unpublish", &req, &ack)
}

func (n *nexusV1) AddChild(ctx context.Context, req AddChildRequest) error {
	var ack Ack
	return invoke(ctx, n.conn, "/nodeapi.v1.Nexus/AddChild", &req, &ack)
}

func (n *nexusV1) RemoveChild(ctx context.Context, req RemoveChildRequest) error {
	var ack Ack
	return invoke(ctx, n.conn, "/nodeapi.v1.Nexus/RemoveChild", &req, &ack)
}

func (n *nexusV1) Shutdown(ctx context.Context, req ShutdownNexusRequest) error {
	var ack Ack
	return invoke(ctx, n.conn, "/nodeapi.v1.Nexus/Shutdown", &req, &ack)
}
