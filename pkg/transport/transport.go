// Package transport implements the messaging plane of spec §4.6: a
// small request/response + streaming abstraction that pkg/raft and
// pkg/router send wire RPCs over, independent of the concrete wire
// codec. Its request/response shapes and moogacs-raft's net.Addr-based
// Transport interface are adapted to spec §4.6's explicit
// send/consumer/stream contract.
package transport

import (
	"context"
	"time"
)

// Type identifies the kind of RPC payload an Envelope carries.
type Type string

const (
	TypeAppendEntries   Type = "AppendEntries"
	TypeRequestVote     Type = "RequestVote"
	TypeInstallSnapshot Type = "InstallSnapshot"
	TypeSubmitCommand   Type = "SubmitCommand"
	TypeOpenSession     Type = "OpenSession"
	TypeKeepAlive       Type = "KeepAlive"
	TypeCloseSession    Type = "CloseSession"
	TypeQuery           Type = "Query"
)

// Envelope is the wire frame every RPC travels in. Carrying (Term,
// Leader) on every message lets a receiver discard a reply that
// arrived after its sender stopped being leader (spec §4.6: "stale-
// leader replies are discarded").
type Envelope struct {
	Type      Type
	RequestID string
	Term      uint64
	Leader    string
	Payload   []byte
}

// RPC is a single inbound request delivered to a Transport consumer.
// Respond must be called exactly once. Streamed requests
// (InstallSnapshot chunks) arrive as one ordinary RPC per chunk.
type RPC struct {
	Source  string
	Request Envelope
	Respond func(resp Envelope, err error)
}

// Future is returned by Send and resolves when a response arrives, the
// deadline passes, or the future is cancelled.
type Future interface {
	// Response blocks until the response is ready or ctx is cancelled.
	Response(ctx context.Context) (Envelope, error)
	// Cancel informs the peer the request is abandoned, if still
	// inflight (spec §4.6: "cancelling the future informs the peer").
	Cancel()
}

// StreamHandle lets a caller push a bounded sequence of chunks to a
// peer, used for InstallSnapshot and session-event delivery.
type StreamHandle interface {
	Send(chunk []byte, done bool) error
	Close() error
}

// Transport is the pluggable wire layer. Implementations: an in-memory
// one for tests (pkg/raft/rafttest), and GRPCTransport (grpc.go) for
// production.
type Transport interface {
	// LocalAddr is this replica's address as known to peers.
	LocalAddr() string
	// Send delivers req to target with the given deadline and returns a
	// Future for the response.
	Send(ctx context.Context, target string, req Envelope, timeout time.Duration) Future
	// Stream opens a streaming channel to target for chunked delivery.
	Stream(ctx context.Context, target string, req Envelope) (StreamHandle, error)
	// Consumer returns the channel of inbound RPCs this transport
	// delivers to the local replica.
	Consumer() <-chan RPC
	// Close releases the transport's resources.
	Close() error
}
