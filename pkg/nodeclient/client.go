// Package nodeclient is the thin, parametric dispatcher the core uses
// to call out to per-node data-plane agents. The wire format of these
// RPCs is explicitly out of scope for the control plane; nodeclient
// rides plain gRPC framing with a JSON payload codec (see codec.go) so
// request/result shapes stay ordinary Go structs.
//
// The core selects a client version from the node's reported
// capability set at connect time; CapabilityV1 is the only version
// implemented today and the API is treated as opaque past the
// create/destroy/share primitives every version must support.
package nodeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/corectl/pkg/corerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// CapabilityVersion names a node-API generation.
type CapabilityVersion string

const CapabilityV1 CapabilityVersion = "v1"

// Client is a connected handle to one node's RPC surface, exposing the
// four API families described in §6 of the external interface.
type Client struct {
	conn    *grpc.ClientConn
	version CapabilityVersion
	Host    HostAPI
	Pool    PoolAPI
	Replica ReplicaAPI
	Nexus   NexusAPI
}

// Dial connects to a node agent at endpoint and selects the highest
// client version the node advertises in its capability set. An empty
// or unrecognized capability set falls back to CapabilityV1.
func Dial(ctx context.Context, endpoint string, capabilities []string) (*Client, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: dial %s: %w", endpoint, err)
	}

	version := selectVersion(capabilities)
	c := &Client{conn: conn, version: version}
	switch version {
	default: // CapabilityV1
		c.Host = &hostV1{conn: conn}
		c.Pool = &poolV1{conn: conn}
		c.Replica = &replicaV1{conn: conn}
		c.Nexus = &nexusV1{conn: conn}
	}
	return c, nil
}

func selectVersion(capabilities []string) CapabilityVersion {
	for _, c := range capabilities {
		if CapabilityVersion(c) == CapabilityV1 {
			return CapabilityV1
		}
	}
	return CapabilityV1
}

// Version reports the client version in use for this connection.
func (c *Client) Version() CapabilityVersion {
	return c.version
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

const defaultCallTimeout = 30 * time.Second

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, reply interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	if err := conn.Invoke(ctx, method, req, reply); err != nil {
		return translateErr(method, err)
	}
	return nil
}

// translateErr maps a gRPC status from the node agent onto the
// control plane's categorical error taxonomy so TOE's OnCreateFail
// dispatch (corerrors.EinvalDelete) can inspect it uniformly.
func translateErr(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return corerrors.Wrap(corerrors.Internal, "node-rpc", method, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return corerrors.Wrap(corerrors.InvalidArguments, "node-rpc", method, err)
	case codes.NotFound:
		return corerrors.Wrap(corerrors.NotFound, "node-rpc", method, err)
	case codes.ResourceExhausted:
		return corerrors.Wrap(corerrors.NotEnoughResources, "node-rpc", method, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return corerrors.Wrap(corerrors.ServiceBusy, "node-rpc", method, err)
	default:
		return corerrors.Wrap(corerrors.Internal, "node-rpc", method, err)
	}
}
