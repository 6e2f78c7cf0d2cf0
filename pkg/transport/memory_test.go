package transport

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTransportSendAndRespond(t *testing.T) {
	hub := NewMemoryHub()
	a := NewMemoryTransport(hub, "replica-a")
	b := NewMemoryTransport(hub, "replica-b")
	defer a.Close()
	defer b.Close()

	go func() {
		rpc := <-b.Consumer()
		if rpc.Request.Type != TypeRequestVote {
			t.Errorf("unexpected type: %v", rpc.Request.Type)
		}
		rpc.Respond(Envelope{Type: TypeRequestVote, RequestID: rpc.Request.RequestID, Term: rpc.Request.Term}, nil)
	}()

	future := a.Send(context.Background(), "replica-b", Envelope{Type: TypeRequestVote, RequestID: "req-1", Term: 3}, time.Second)
	resp, err := future.Response(context.Background())
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Term != 3 {
		t.Fatalf("expected term 3, got %d", resp.Term)
	}
}

func TestMemoryTransportSendToUnknownTarget(t *testing.T) {
	hub := NewMemoryHub()
	a := NewMemoryTransport(hub, "replica-a")
	defer a.Close()

	future := a.Send(context.Background(), "replica-missing", Envelope{RequestID: "req-2"}, time.Second)
	_, err := future.Response(context.Background())
	if err == nil {
		t.Fatal("expected error sending to unknown target")
	}
}
