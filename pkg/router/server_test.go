package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/service/primitives"
	"github.com/cuemby/atomix/pkg/session"
	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

func newServerHarness(t *testing.T) (*transport.MemoryTransport, *raft.Replica) {
	t.Helper()
	hub := transport.NewMemoryHub()
	nodeTrans := transport.NewMemoryTransport(hub, "node-a")
	demux := NewDemux(nodeTrans)

	reg := service.NewRegistry()
	reg.Register(primitives.CounterType, primitives.NewCounter)
	host := service.NewHost(reg)
	partitionKey := types.PartitionKey{Group: "g", Partition: 0}
	mgr := session.NewManager(host, zerolog.Nop(), partitionKey)

	config := types.Configuration{Members: []types.ConfigurationMember{
		{MemberID: "node-a", Address: "node-a", Role: types.MemberActive},
	}}
	replica, err := raft.New("node-a", partitionKey, raft.DefaultOptions(),
		storage.NewMemoryLog(), storage.NewMemorySnapshotStore(), demux, mgr, config)
	if err != nil {
		t.Fatalf("raft.New: %v", err)
	}
	t.Cleanup(replica.Shutdown)

	srv := NewServer(replica, mgr, demux.ClientRPCs(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	awaitLeader(t, replica)

	client := transport.NewMemoryTransport(hub, "test-client")
	t.Cleanup(func() { _ = client.Close() })
	return client, replica
}

func awaitLeader(t *testing.T, r *raft.Replica) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status().Role == types.RoleLeader {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("replica never became leader")
}

func send(t *testing.T, client *transport.MemoryTransport, typ transport.Type, payload any) transport.Envelope {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fut := client.Send(ctx, "node-a", transport.Envelope{Type: typ, RequestID: "r", Payload: b}, time.Second)
	env, err := fut.Response(ctx)
	if err != nil {
		t.Fatalf("%s: %v", typ, err)
	}
	return env
}

func TestServerOpenSessionAndSubmitCommandRoundTrip(t *testing.T) {
	client, _ := newServerHarness(t)

	openEnv := send(t, client, transport.TypeOpenSession, session.OpenSessionRequest{
		ServiceType: primitives.CounterType, ServiceName: "c1", TimeoutNano: int64(time.Minute),
	})
	var openResp session.OpenSessionResponse
	if err := json.Unmarshal(openEnv.Payload, &openResp); err != nil {
		t.Fatalf("decode OpenSessionResponse: %v", err)
	}
	if openResp.SessionID == 0 {
		t.Fatal("expected a nonzero session id")
	}

	cmdEnv := send(t, client, transport.TypeSubmitCommand, session.CommandRequest{
		SessionID: openResp.SessionID, Sequence: 1, Op: primitives.CounterOpIncrement, Args: encode8(5),
	})
	var cmdResp session.CommandResponse
	if err := json.Unmarshal(cmdEnv.Payload, &cmdResp); err != nil {
		t.Fatalf("decode CommandResponse: %v", err)
	}
	if len(cmdResp.Result) != 8 {
		t.Fatalf("expected an 8-byte counter result, got %d bytes", len(cmdResp.Result))
	}
}

func TestServerQueryEventualConsistency(t *testing.T) {
	client, _ := newServerHarness(t)

	openEnv := send(t, client, transport.TypeOpenSession, session.OpenSessionRequest{
		ServiceType: primitives.CounterType, ServiceName: "c1", TimeoutNano: int64(time.Minute),
	})
	var openResp session.OpenSessionResponse
	_ = json.Unmarshal(openEnv.Payload, &openResp)

	send(t, client, transport.TypeSubmitCommand, session.CommandRequest{
		SessionID: openResp.SessionID, Sequence: 1, Op: primitives.CounterOpIncrement, Args: encode8(9),
	})

	queryEnv := send(t, client, transport.TypeQuery, queryRequest{
		QueryRequest: session.QueryRequest{SessionID: openResp.SessionID, Op: primitives.CounterOpGet},
		Consistency:  types.Eventual,
	})
	if len(queryEnv.Payload) != 8 {
		t.Fatalf("expected an 8-byte counter value, got %d bytes", len(queryEnv.Payload))
	}
}

func encode8(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
