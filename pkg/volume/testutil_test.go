package volume

import (
	"net"
	"sync"
	"testing"

	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/scheduler"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeNode is a minimal in-process stand-in for a node agent, answering
// every nodeapi.v1 method a composite workflow can issue so the
// workflows under test exercise a real gRPC round trip rather than an
// in-process fake of nodeclient.Client itself.
type fakeNode struct {
	mu sync.Mutex

	failReplicaCreate bool
	failNexusCreate   bool
	failNexusPublish  bool
}

func (f *fakeNode) handler(_ interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method")
	}

	switch method {
	case "/nodeapi.v1.Replica/Create":
		var req nodeclient.CreateReplicaRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.mu.Lock()
		fail := f.failReplicaCreate
		f.mu.Unlock()
		if fail {
			return status.Error(codes.Internal, "replica create failed")
		}
		return stream.SendMsg(&nodeclient.CreateReplicaResult{
			Replica: nodeclient.ReplicaState{ID: req.ReplicaID, Pool: req.PoolID, SizeBytes: req.SizeBytes, URI: "bdev:///" + req.ReplicaID},
		})
	case "/nodeapi.v1.Replica/Destroy":
		var req nodeclient.DestroyReplicaRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Replica/Share":
		var req nodeclient.ShareReplicaRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.ShareReplicaResult{URI: "nvmf://" + req.ReplicaID})
	case "/nodeapi.v1.Replica/Unshare":
		var req nodeclient.UnshareReplicaRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Replica/CreateSnapshot":
		var req nodeclient.CreateReplicaSnapshotRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.CreateReplicaSnapshotResult{SnapshotID: req.SnapshotID})
	case "/nodeapi.v1.Replica/DestroySnapshot":
		var req nodeclient.DestroyReplicaSnapshotRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Nexus/Create":
		var req nodeclient.CreateNexusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.mu.Lock()
		fail := f.failNexusCreate
		f.mu.Unlock()
		if fail {
			return status.Error(codes.Internal, "nexus create failed")
		}
		return stream.SendMsg(&nodeclient.CreateNexusResult{Nexus: nodeclient.NexusState{ID: req.NexusID, Children: req.Children, Healthy: true}})
	case "/nodeapi.v1.Nexus/Destroy":
		var req nodeclient.DestroyNexusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Nexus/Publish":
		var req nodeclient.PublishNexusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		f.mu.Lock()
		fail := f.failNexusPublish
		f.mu.Unlock()
		if fail {
			return status.Error(codes.Internal, "nexus publish failed")
		}
		return stream.SendMsg(&nodeclient.PublishNexusResult{URI: "nvmf://" + req.NexusID})
	case "/nodeapi.v1.Nexus/Unpublish":
		var req nodeclient.UnpublishNexusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Nexus/AddChild":
		var req nodeclient.AddChildRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Nexus/RemoveChild":
		var req nodeclient.RemoveChildRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Nexus/Shutdown":
		var req nodeclient.ShutdownNexusRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	case "/nodeapi.v1.Pool/Create":
		var req nodeclient.CreatePoolRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.CreatePoolResult{Pool: nodeclient.PoolState{ID: req.PoolID, Disks: req.Disks}})
	case "/nodeapi.v1.Pool/Destroy":
		var req nodeclient.DestroyPoolRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		return stream.SendMsg(&nodeclient.Ack{})
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

// startFakeNode runs fake on a real loopback TCP listener (nodeclient.Dial
// takes a dial target string, not a custom dialer, so bufconn isn't an
// option here) and returns its dial endpoint.
func startFakeNode(t *testing.T, fake *fakeNode) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := grpc.NewServer(grpc.UnknownServiceHandler(fake.handler))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

// testHarness bundles everything a composite-workflow test needs:
// registries seeded with nodes/pools, a dispatcher resolving to real
// fake-node servers, and a Service wired against them.
type testHarness struct {
	rr    *registry.Registries
	store store.Store
	svc   *Service
}

// newTestHarness builds nodeCount fake nodes, each with one pool, and a
// Service dispatching to them. It returns the harness plus the fake
// nodes themselves so tests can toggle failure injection.
func newTestHarness(t *testing.T, nodeCount int) (*testHarness, []*fakeNode) {
	t.Helper()
	rr := registry.NewRegistries()
	endpoints := make(map[string]string, nodeCount)
	fakes := make([]*fakeNode, nodeCount)

	for i := 0; i < nodeCount; i++ {
		fake := &fakeNode{}
		fakes[i] = fake
		nodeID := nodeName(i)
		endpoints[nodeID] = startFakeNode(t, fake)

		rr.Nodes.Insert(nodeID, types.Node{ID: nodeID, Endpoint: endpoints[nodeID], Status: types.Created})
		poolID := nodeID + "-pool"
		rr.Pools.Insert(poolID, types.Pool{ID: poolID, Node: nodeID, Status: types.Created})
	}

	dispatcher := nodeclient.NewDispatcher(func(nodeID string) (string, []string, bool) {
		endpoint, ok := endpoints[nodeID]
		if !ok {
			return "", nil, false
		}
		return endpoint, []string{string(nodeclient.CapabilityV1)}, true
	})

	memStore := store.NewMemStore()
	sched := scheduler.New(rr)
	broker := events.NewBroker()

	svc := NewService(Config{
		Registries: rr,
		Store:      memStore,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Broker:     broker,
	})

	return &testHarness{rr: rr, store: memStore, svc: svc}, fakes
}

func nodeName(i int) string {
	return "node-" + string(rune('a'+i))
}
