package nodeclient

import (
	"context"

	"google.golang.org/grpc"
)

// PoolAPI creates and destroys storage pools on a node.
type PoolAPI interface {
	Create(ctx context.Context, req CreatePoolRequest) (CreatePoolResult, error)
	Destroy(ctx context.Context, req DestroyPoolRequest) error
}

type poolV1 struct {
	conn *grpc.ClientConn
}

func (p *poolV1) Create(ctx context.Context, req CreatePoolRequest) (CreatePoolResult, error) {
	var result CreatePoolResult
	err := invoke(ctx, p.conn, "/nodeapi.v1.Pool/Create", &req, &result)
	return result, err
}

func (p *poolV1) Destroy(ctx context.Context, req DestroyPoolRequest) error {
	var ack Ack
	return invoke(ctx, p.conn, "/nodeapi.v1.Pool/Destroy", &req, &ack)
}
