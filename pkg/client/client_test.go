package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/atomix/pkg/client"
	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/router"
	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/service/primitives"
	"github.com/cuemby/atomix/pkg/session"
	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

// newSingleNodeClient wires one partition's Replica+Manager behind a
// router.Server, sharing the node's transport address via a Demux, and
// returns a Client addressed at it through a single-partition Table —
// the same shape router/server_test.go exercises from the RPC side,
// exercised here end to end through the public SDK.
func newSingleNodeClient(t *testing.T) *client.Client {
	t.Helper()
	hub := transport.NewMemoryHub()
	nodeTrans := transport.NewMemoryTransport(hub, "node-a")
	demux := router.NewDemux(nodeTrans)

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

	srv := router.NewServer(replica, mgr, demux.ClientRPCs(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if replica.Status().Role == types.RoleLeader {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	clientTrans := transport.NewMemoryTransport(hub, "test-client")
	t.Cleanup(func() { _ = clientTrans.Close() })

	table := router.NewTable([][]string{{"node-a"}})
	return client.New(clientTrans, table, client.WithTimeout(time.Second))
}

func encode8(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decode8(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func TestSessionSubmitAndQuery(t *testing.T) {
	c := newSingleNodeClient(t)
	ctx := context.Background()

	s, err := c.Open(ctx, primitives.CounterType, "counter-1", time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID() == 0 {
		t.Fatal("expected a nonzero session id")
	}

	result, _, err := s.Submit(ctx, primitives.CounterOpIncrement, encode8(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := decode8(result); got != 3 {
		t.Fatalf("increment result = %d, want 3", got)
	}

	result, _, err = s.Submit(ctx, primitives.CounterOpIncrement, encode8(4))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := decode8(result); got != 7 {
		t.Fatalf("increment result = %d, want 7", got)
	}

	value, err := s.Query(ctx, primitives.CounterOpGet, nil, types.Eventual)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := decode8(value); got != 7 {
		t.Fatalf("query value = %d, want 7", got)
	}

	value, err = s.Query(ctx, primitives.CounterOpGet, nil, types.Sequential)
	if err != nil {
		t.Fatalf("Sequential Query: %v", err)
	}
	if got := decode8(value); got != 7 {
		t.Fatalf("sequential query value = %d, want 7", got)
	}

	if err := s.KeepAlive(ctx, 0); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSessionOpenIsolatesDistinctNamedInstances(t *testing.T) {
	c := newSingleNodeClient(t)
	ctx := context.Background()

	a, err := c.Open(ctx, primitives.CounterType, "counter-a", time.Minute)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := c.Open(ctx, primitives.CounterType, "counter-b", time.Minute)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	if _, _, err := a.Submit(ctx, primitives.CounterOpIncrement, encode8(5)); err != nil {
		t.Fatalf("Submit a: %v", err)
	}

	value, err := b.Query(ctx, primitives.CounterOpGet, nil, types.Eventual)
	if err != nil {
		t.Fatalf("Query b: %v", err)
	}
	if got := decode8(value); got != 0 {
		t.Fatalf("counter-b = %d, want 0 (separate instance from counter-a)", got)
	}
}
