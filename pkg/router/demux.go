package router

import "github.com/cuemby/atomix/pkg/transport"

// clientTypes are the Envelope.Type values a Server handles; everything
// else is raft-internal and passed through to the wrapped Replica.
var clientTypes = map[transport.Type]bool{
	transport.TypeSubmitCommand: true,
	transport.TypeOpenSession:   true,
	transport.TypeKeepAlive:     true,
	transport.TypeCloseSession:  true,
	transport.TypeQuery:         true,
}

// Demux splits one Transport's inbound RPC stream by Envelope.Type so a
// raft.Replica and a router.Server can share a single network address
// per node instead of needing one each. A client addresses a partition
// by the same address its replicas gossip AppendEntries over; Demux is
// what lets both consumers live behind that one address without either
// one needing to know the other exists.
type Demux struct {
	transport.Transport
	raftCh   chan transport.RPC
	clientCh chan transport.RPC
}

// NewDemux wraps underlying, splitting its Consumer() stream. Demux
// itself implements transport.Transport (pass it to raft.New in place
// of the real transport); call ClientRPCs to get the client-facing
// stream for a router.Server.
func NewDemux(underlying transport.Transport) *Demux {
	d := &Demux{
		Transport: underlying,
		raftCh:    make(chan transport.RPC, 256),
		clientCh:  make(chan transport.RPC, 256),
	}
	go d.run()
	return d
}

func (d *Demux) run() {
	for rpc := range d.Transport.Consumer() {
		if clientTypes[rpc.Request.Type] {
			d.clientCh <- rpc
		} else {
			d.raftCh <- rpc
		}
	}
	close(d.raftCh)
	close(d.clientCh)
}

// Consumer implements transport.Transport for the raft-internal half of
// the stream (AppendEntries/RequestVote/InstallSnapshot).
func (d *Demux) Consumer() <-chan transport.RPC { return d.raftCh }

// ClientRPCs returns the client-facing half of the stream
// (SubmitCommand/OpenSession/KeepAlive/CloseSession/Query).
func (d *Demux) ClientRPCs() <-chan transport.RPC { return d.clientCh }

// Send, Stream, LocalAddr, and Close are satisfied by the embedded
// transport.Transport; only Consumer needs overriding.
var _ transport.Transport = (*Demux)(nil)
