/*
Package transport implements the messaging plane of spec §4.6.

Transport is a small send/consume/stream interface with two
implementations. MemoryTransport wires a set of in-process replicas
together through a shared memoryHub for pkg/raft/rafttest and unit
tests. GRPCTransport carries the same Envelope{Type, RequestID, Term,
Leader, Payload} over a single hand-registered bidi-streaming gRPC
method ("Exchange"), multiplexing every RPC type and every concurrent
in-flight request (keyed by RequestID) over one persistent connection
per peer pair. The wire codec (codec.go) is a small JSON
encoding.Codec registered under the name "atomix-envelope" so the
payload never needs a protoc-generated message type.
*/
package transport
