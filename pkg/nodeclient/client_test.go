package nodeclient

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/corectl/pkg/corerrors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeReplicaServer answers /nodeapi.v1.Replica/* with canned JSON
// results, proving the JSON codec round-trips through a real gRPC
// stream rather than merely marshaling in-process.
type fakeReplicaServer struct {
	failNotFound bool
}

func (f *fakeReplicaServer) handler(srv interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method")
	}

	switch method {
	case "/nodeapi.v1.Replica/Create":
		var req CreateReplicaRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		if f.failNotFound {
			return status.Error(codes.NotFound, "pool not found")
		}
		return stream.SendMsg(&CreateReplicaResult{
			Replica: ReplicaState{ID: req.ReplicaID, Pool: req.PoolID, SizeBytes: req.SizeBytes, URI: "bdev:///" + req.ReplicaID},
		})
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

func dialViaBufconn(t *testing.T, fake *fakeReplicaServer) (*Client, func()) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer(grpc.UnknownServiceHandler(fake.handler))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)

	client := &Client{conn: conn, version: CapabilityV1, Replica: &replicaV1{conn: conn}}
	return client, func() {
		_ = conn.Close()
		server.Stop()
	}
}

func TestReplicaCreateRoundTripsOverJSONCodec(t *testing.T) {
	fake := &fakeReplicaServer{}
	client, cleanup := dialViaBufconn(t, fake)
	defer cleanup()

	result, err := client.Replica.Create(context.Background(), CreateReplicaRequest{
		ReplicaID: "r1", PoolID: "p1", SizeBytes: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, "r1", result.Replica.ID)
	require.Equal(t, "bdev:///r1", result.Replica.URI)
}

func TestReplicaCreateTranslatesNotFoundToCategoricalError(t *testing.T) {
	fake := &fakeReplicaServer{failNotFound: true}
	client, cleanup := dialViaBufconn(t, fake)
	defer cleanup()

	_, err := client.Replica.Create(context.Background(), CreateReplicaRequest{ReplicaID: "r1", PoolID: "p1"})
	require.Error(t, err)
	require.Equal(t, corerrors.NotFound, corerrors.CodeOf(err))
}
