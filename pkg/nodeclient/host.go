package nodeclient

import (
	"context"

	"google.golang.org/grpc"
)

// HostAPI enumerates and registers a node's self-reported inventory.
type HostAPI interface {
	Register(ctx context.Context, req RegisterRequest) error
	Enumerate(ctx context.Context) (EnumerateResult, error)
}

type hostV1 struct {
	conn *grpc.ClientConn
}

func (h *hostV1) Register(ctx context.Context, req RegisterRequest) error {
	var ack Ack
	return invoke(ctx, h.conn, "/nodeapi.v1.Host/Register", &req, &ack)
}

func (h *hostV1) Enumerate(ctx context.Context) (EnumerateResult, error) {
	var result EnumerateResult
	err := invoke(ctx, h.conn, "/nodeapi.v1.Host/Enumerate", &Ack{}, &result)
	return result, err
}
