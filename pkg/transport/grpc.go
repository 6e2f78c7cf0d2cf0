package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// exchangeStreamDesc is the single bidi-streaming method every peer
// pair multiplexes all RPC types over, keyed by Envelope.RequestID —
// "Wire transport is pluggable" (spec §6) without a protoc-generated
// schema the core would then own.
var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	Handler:       exchangeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// exchangeServer is an empty marker interface standing in for the
// service interface protoc would otherwise generate.
type exchangeServer interface{}

// serviceDesc is hand-written in place of a .proto-generated one.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "atomix.transport.Transport",
	HandlerType: (*exchangeServer)(nil),
	Streams:     []grpc.StreamDesc{exchangeStreamDesc},
	Metadata:    "atomix/transport.proto",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	t := srv.(*GRPCTransport)
	return t.serveExchange(stream)
}

// GRPCTransport implements Transport over google.golang.org/grpc,
// using the atomix-envelope codec (codec.go) so no protoc-generated
// stubs are required. mTLS setup requires a client certificate
// (RequireAndVerifyClientCert) validated against a CA-rooted client cert pool.
type GRPCTransport struct {
	addr     string
	server   *grpc.Server
	listener net.Listener
	creds    credentials.TransportCredentials

	inbound chan RPC

	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	streams map[string]grpc.ClientStream
	pending map[string]chan Envelope // keyed by RequestID
}

// NewGRPCTransport creates a transport bound to addr, with the given
// mTLS server/client certificate pair and CA pool.
func NewGRPCTransport(addr string, cert tls.Certificate, caPool *x509.CertPool) (*GRPCTransport, error) {
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS13,
	}
	creds := credentials.NewTLS(tlsConfig)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}

	t := &GRPCTransport{
		addr:     addr,
		listener: lis,
		creds:    creds,
		inbound:  make(chan RPC, 256),
		conns:    make(map[string]*grpc.ClientConn),
		streams:  make(map[string]grpc.ClientStream),
		pending:  make(map[string]chan Envelope),
	}

	t.server = grpc.NewServer(grpc.Creds(creds), grpc.ForceServerCodec(envelopeCodec{}))
	t.server.RegisterService(&serviceDesc, t)

	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.WithComponent("transport").Error().Err(err).Msg("grpc serve exited")
		}
	}()

	return t, nil
}

func (t *GRPCTransport) LocalAddr() string { return t.addr }

func (t *GRPCTransport) Consumer() <-chan RPC { return t.inbound }

// serveExchange reads Envelopes off one peer's long-lived stream and
// either dispatches them as inbound RPCs (requests) or resolves a
// pending local future (responses), distinguishing by RequestID
// presence in the pending map.
func (t *GRPCTransport) serveExchange(stream grpc.ServerStream) error {
	var sendMu sync.Mutex
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			return err
		}

		t.mu.Lock()
		ch, isResponse := t.pending[env.RequestID]
		t.mu.Unlock()
		if isResponse {
			select {
			case ch <- env:
			default:
			}
			continue
		}

		rpc := RPC{
			Request: env,
			Respond: func(resp Envelope, err error) {
				if err != nil {
					return
				}
				sendMu.Lock()
				defer sendMu.Unlock()
				_ = stream.SendMsg(&resp)
			},
		}
		select {
		case t.inbound <- rpc:
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (t *GRPCTransport) clientStream(ctx context.Context, target string) (grpc.ClientStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[target]; ok {
		return s, nil
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(t.creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(envelopeCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}

	stream, err := conn.NewStream(context.Background(), &exchangeStreamDesc, "/atomix.transport.Transport/Exchange")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: open stream to %s: %w", target, err)
	}

	t.conns[target] = conn
	t.streams[target] = stream
	go t.recvLoop(target, stream)
	return stream, nil
}

func (t *GRPCTransport) recvLoop(target string, stream grpc.ClientStream) {
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			t.mu.Lock()
			if t.streams[target] == stream {
				delete(t.streams, target)
			}
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		ch := t.pending[env.RequestID]
		t.mu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

type grpcFuture struct {
	ch     chan Envelope
	cancel func()
}

func (f *grpcFuture) Response(ctx context.Context) (Envelope, error) {
	select {
	case env := <-f.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (f *grpcFuture) Cancel() { f.cancel() }

func (t *GRPCTransport) Send(ctx context.Context, target string, req Envelope, timeout time.Duration) Future {
	ch := make(chan Envelope, 1)
	t.mu.Lock()
	t.pending[req.RequestID] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		delete(t.pending, req.RequestID)
		t.mu.Unlock()
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, timeout)
	go func() {
		defer sendCancel()
		stream, err := t.clientStream(sendCtx, target)
		if err != nil {
			cancel()
			ch <- Envelope{}
			return
		}
		if err := stream.SendMsg(&req); err != nil {
			cancel()
		}
	}()

	return &grpcFuture{ch: ch, cancel: cancel}
}

type grpcStreamHandle struct {
	transport *GRPCTransport
	target    string
	reqID     string
	kind      Type
}

func (h *grpcStreamHandle) Send(chunk []byte, done bool) error {
	stream, err := h.transport.clientStream(context.Background(), h.target)
	if err != nil {
		return atomixerrors.Wrap(atomixerrors.KindUnavailable, "stream send", err)
	}
	return stream.SendMsg(&Envelope{Type: h.kind, RequestID: h.reqID, Payload: chunk})
}

func (h *grpcStreamHandle) Close() error { return nil }

func (t *GRPCTransport) Stream(ctx context.Context, target string, req Envelope) (StreamHandle, error) {
	if _, err := t.clientStream(ctx, target); err != nil {
		return nil, err
	}
	return &grpcStreamHandle{transport: t, target: target, reqID: req.RequestID, kind: req.Type}, nil
}

func (t *GRPCTransport) Close() error {
	t.server.GracefulStop()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	return nil
}
