package legacybus

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/atomix/pkg/transport"
)

func TestCodecRoundTripsNormativeActionTags(t *testing.T) {
	for typ := range actionByType {
		env := transport.Envelope{Type: typ, RequestID: "req-1", Term: 7, Leader: "node-a", Payload: []byte("payload")}
		msg, err := ToMessage(env)
		if err != nil {
			t.Fatalf("ToMessage(%s): %v", typ, err)
		}
		back, err := ToEnvelope(msg)
		if err != nil {
			t.Fatalf("ToEnvelope(%s): %v", typ, err)
		}
		if back.Type != typ || back.RequestID != env.RequestID || back.Term != env.Term || back.Leader != env.Leader || string(back.Payload) != string(env.Payload) {
			t.Fatalf("round trip mismatch for %s: got %+v", typ, back)
		}
	}
}

func TestToEnvelopeRejectsUnknownAction(t *testing.T) {
	if _, err := ToEnvelope(Message{Action: "requestVote", RequestID: "x"}); err != nil {
		t.Fatalf("known action should not error: %v", err)
	}
	if _, err := ToEnvelope(Message{Action: "doTheThing"}); err == nil {
		t.Fatal("expected an error for an unrecognized action tag")
	}
}

func TestGatewayDeliversRequestAndReply(t *testing.T) {
	hub := NewHub()
	client := NewGateway(hub, "client:1")
	server := NewGateway(hub, "server:1")
	defer client.Close()
	defer server.Close()

	go func() {
		rpc := <-server.Consumer()
		if rpc.Request.Type != transport.TypeSubmitCommand {
			t.Errorf("server saw type %s, want SubmitCommand", rpc.Request.Type)
			rpc.Respond(transport.Envelope{}, nil)
			return
		}
		rpc.Respond(transport.Envelope{RequestID: rpc.Request.RequestID, Leader: "server:1", Payload: []byte("ok")}, nil)
	}()

	req := transport.Envelope{Type: transport.TypeSubmitCommand, RequestID: "req-42", Payload: []byte("do-it")}
	future := client.Send(context.Background(), "server:1", req, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := future.Response(ctx)
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	if resp.Leader != "server:1" || string(resp.Payload) != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGatewaySendToUnknownTargetFails(t *testing.T) {
	hub := NewHub()
	client := NewGateway(hub, "client:1")
	defer client.Close()

	req := transport.Envelope{Type: transport.TypeQuery, RequestID: "req-1"}
	future := client.Send(context.Background(), "nowhere:1", req, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := future.Response(ctx); err == nil {
		t.Fatal("expected an error sending to an unregistered gateway")
	}
}
