package legacybus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/transport"
)

// busHub wires a set of Gateways together by address, the same role
// pkg/transport's memoryHub plays for MemoryTransport. This in-process
// hub is the only Bus this package ships, since no message-bus client
// dependency (nats/kafka/amqp/pubsub) is wired anywhere in this module;
// a real bus client would implement the same Gateway-facing shape
// against an actual broker instead of a map.
type busHub struct {
	mu     sync.RWMutex
	byAddr map[string]*Gateway
}

// NewHub creates an empty hub. Gateways register with NewGateway(hub, addr).
func NewHub() *busHub {
	return &busHub{byAddr: make(map[string]*Gateway)}
}

// reply is the bus's response frame: unlike Message, it carries no
// action tag, since a reply isn't dispatched by action — it is
// correlated back to its request purely by RequestID.
type reply struct {
	requestID string
	term      uint64
	leader    string
	payload   []byte
	err       error
}

// Gateway adapts a legacy message-bus connection to transport.Transport,
// so pkg/raft and pkg/router can run over the bus with no code change:
// the bus's action-tagged Message is exactly transport.Envelope's
// dispatch information, just spelled differently on the wire (see
// codec.go). Grounded on pkg/transport.MemoryTransport's Send/Stream/
// Consumer/Close shape, with Message/reply translation inserted at the
// hub-delivery boundary in place of raw Envelope passing.
type Gateway struct {
	hub     *busHub
	addr    string
	inbound chan RPC

	mu      sync.Mutex
	closed  bool
	pending map[string]chan reply
}

// RPC is a single inbound request delivered to a Gateway's consumer,
// mirroring transport.RPC so pkg/raft's wiring code is identical
// whether it runs over a Gateway or a transport.Transport.
type RPC struct {
	Source  string
	Request transport.Envelope
	Respond func(resp transport.Envelope, err error)
}

// NewGateway registers a new Gateway at addr on hub.
func NewGateway(hub *busHub, addr string) *Gateway {
	g := &Gateway{
		hub:     hub,
		addr:    addr,
		inbound: make(chan RPC, 256),
		pending: make(map[string]chan reply),
	}
	hub.mu.Lock()
	hub.byAddr[addr] = g
	hub.mu.Unlock()
	return g
}

func (g *Gateway) LocalAddr() string { return g.addr }

// Consumer returns inbound legacy-bus requests translated into
// transport.RPC, so a Gateway can be handed anywhere a
// transport.Transport consumer is expected.
func (g *Gateway) Consumer() <-chan transport.RPC {
	out := make(chan transport.RPC)
	go func() {
		defer close(out)
		for rpc := range g.inbound {
			out <- transport.RPC{
				Source:  rpc.Source,
				Request: rpc.Request,
				Respond: rpc.Respond,
			}
		}
	}()
	return out
}

type gatewayFuture struct {
	ch      chan reply
	cancel  func()
	timeout *time.Timer
}

func (f *gatewayFuture) Response(ctx context.Context) (transport.Envelope, error) {
	select {
	case r := <-f.ch:
		if r.err != nil {
			return transport.Envelope{}, r.err
		}
		return transport.Envelope{RequestID: r.requestID, Term: r.term, Leader: r.leader, Payload: r.payload}, nil
	case <-ctx.Done():
		return transport.Envelope{}, ctx.Err()
	}
}

func (f *gatewayFuture) Cancel() {
	f.cancel()
}

// Send publishes req to target over the bus and returns a Future for
// the correlated reply.
func (g *Gateway) Send(ctx context.Context, target string, req transport.Envelope, timeout time.Duration) transport.Future {
	msg, err := ToMessage(req)
	ch := make(chan reply, 1)
	if err != nil {
		ch <- reply{err: err}
		return &gatewayFuture{ch: ch, cancel: func() {}}
	}

	g.hub.mu.RLock()
	dst, ok := g.hub.byAddr[target]
	g.hub.mu.RUnlock()
	if !ok {
		ch <- reply{err: atomixerrors.New(atomixerrors.KindUnavailable, fmt.Sprintf("no gateway registered at %s", target))}
		return &gatewayFuture{ch: ch, cancel: func() {}}
	}

	g.mu.Lock()
	g.pending[req.RequestID] = ch
	g.mu.Unlock()
	cancel := func() {
		g.mu.Lock()
		delete(g.pending, req.RequestID)
		g.mu.Unlock()
	}

	rpc := RPC{
		Source:  g.addr,
		Request: req,
		Respond: func(resp transport.Envelope, respErr error) {
			g.deliverReply(req.RequestID, reply{requestID: req.RequestID, term: resp.Term, leader: resp.Leader, payload: resp.Payload, err: respErr})
		},
	}

	deadline := time.NewTimer(timeout)
	go func() {
		defer deadline.Stop()
		select {
		case dst.inbound <- dst.toInboundRPC(rpc, msg):
		case <-deadline.C:
			g.deliverReply(req.RequestID, reply{requestID: req.RequestID, err: atomixerrors.New(atomixerrors.KindTimeout, "bus publish timed out")})
		}
	}()

	return &gatewayFuture{ch: ch, cancel: cancel, timeout: deadline}
}

// toInboundRPC re-derives the Envelope from msg via ToEnvelope before
// handing it to the destination's Consumer, so the destination sees
// exactly what arrived on the wire rather than the sender's original
// Envelope value (the two are expected to be equal; this keeps the
// codec on the critical path instead of bypassing it in-process).
func (dst *Gateway) toInboundRPC(rpc RPC, msg Message) RPC {
	env, err := ToEnvelope(msg)
	if err != nil {
		rpc.Respond(transport.Envelope{}, err)
		return rpc
	}
	rpc.Request = env
	return rpc
}

func (g *Gateway) deliverReply(requestID string, r reply) {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// busStream chunks a stream over discrete Publish-style calls: the
// legacy bus has no native streaming primitive, so each chunk is sent
// as its own correlated request/response pair, same as
// pkg/transport.memoryStream but through the Message codec.
type busStream struct {
	dst    *Gateway
	source string
	reqID  string
	kind   transport.Type
}

func (s *busStream) Send(chunk []byte, done bool) error {
	env := transport.Envelope{Type: s.kind, RequestID: s.reqID, Payload: chunk}
	msg, err := ToMessage(env)
	if err != nil {
		return err
	}

	respCh := make(chan struct{})
	rpc := RPC{
		Source:  s.source,
		Request: env,
		Respond: func(transport.Envelope, error) { close(respCh) },
	}
	select {
	case s.dst.inbound <- s.dst.toInboundRPC(rpc, msg):
	default:
		return atomixerrors.New(atomixerrors.KindUnavailable, "bus stream target busy")
	}
	<-respCh
	return nil
}

func (s *busStream) Close() error { return nil }

// Stream opens a chunked delivery channel to target over the bus.
func (g *Gateway) Stream(ctx context.Context, target string, req transport.Envelope) (transport.StreamHandle, error) {
	g.hub.mu.RLock()
	dst, ok := g.hub.byAddr[target]
	g.hub.mu.RUnlock()
	if !ok {
		return nil, atomixerrors.New(atomixerrors.KindUnavailable, fmt.Sprintf("no gateway registered at %s", target))
	}
	return &busStream{dst: dst, source: g.addr, reqID: req.RequestID, kind: req.Type}, nil
}

// Close releases the gateway's resources and deregisters it from the hub.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.hub.mu.Lock()
	delete(g.hub.byAddr, g.addr)
	g.hub.mu.Unlock()
	close(g.inbound)
	return nil
}
