package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/atomixerrors"
)

// memoryHub wires a set of in-memory transports together so tests can
// run a multi-replica cluster in one process without touching the
// network (pkg/raft/rafttest's backing transport).
type memoryHub struct {
	mu          sync.RWMutex
	byAddr      map[string]*MemoryTransport
	partitioned map[string]bool
}

// NewMemoryHub creates an empty hub. Transports register themselves
// with NewMemoryTransport(hub, addr).
func NewMemoryHub() *memoryHub {
	return &memoryHub{byAddr: make(map[string]*MemoryTransport), partitioned: make(map[string]bool)}
}

// Partition cuts every RPC to and from addr until Heal(addr) is
// called, simulating a node severed from the rest of the cluster.
func (h *memoryHub) Partition(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitioned[addr] = true
}

// Heal restores addr's connectivity after a prior Partition.
func (h *memoryHub) Heal(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.partitioned, addr)
}

func (h *memoryHub) isCut(a, b string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.partitioned[a] || h.partitioned[b]
}

// MemoryTransport is an in-process Transport used by tests; Send
// delivers directly into the target's Consumer channel.
type MemoryTransport struct {
	hub     *memoryHub
	addr    string
	inbound chan RPC
	mu      sync.Mutex
	closed  bool
}

// NewMemoryTransport registers a new transport at addr on hub.
func NewMemoryTransport(hub *memoryHub, addr string) *MemoryTransport {
	t := &MemoryTransport{hub: hub, addr: addr, inbound: make(chan RPC, 256)}
	hub.mu.Lock()
	hub.byAddr[addr] = t
	hub.mu.Unlock()
	return t
}

func (t *MemoryTransport) LocalAddr() string { return t.addr }

func (t *MemoryTransport) Consumer() <-chan RPC { return t.inbound }

type memoryFuture struct {
	done   chan struct{}
	resp   Envelope
	err    error
	cancel chan struct{}
	once   sync.Once
}

func (f *memoryFuture) Response(ctx context.Context) (Envelope, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (f *memoryFuture) Cancel() {
	f.once.Do(func() { close(f.cancel) })
}

func (t *MemoryTransport) Send(ctx context.Context, target string, req Envelope, timeout time.Duration) Future {
	f := &memoryFuture{done: make(chan struct{}), cancel: make(chan struct{})}

	t.hub.mu.RLock()
	dst, ok := t.hub.byAddr[target]
	t.hub.mu.RUnlock()
	if !ok {
		f.err = atomixerrors.New(atomixerrors.KindUnavailable, fmt.Sprintf("no transport registered at %s", target))
		close(f.done)
		return f
	}
	if t.hub.isCut(t.addr, target) {
		f.err = atomixerrors.New(atomixerrors.KindTimeout, fmt.Sprintf("no route to %s", target))
		close(f.done)
		return f
	}

	rpc := RPC{
		Source:  t.addr,
		Request: req,
		Respond: func(resp Envelope, err error) {
			f.resp, f.err = resp, err
			close(f.done)
		},
	}

	deadline := time.NewTimer(timeout)
	go func() {
		defer deadline.Stop()
		select {
		case dst.inbound <- rpc:
		case <-deadline.C:
			f.err = atomixerrors.New(atomixerrors.KindTimeout, "send timed out")
			close(f.done)
		case <-f.cancel:
			f.err = atomixerrors.New(atomixerrors.KindTimeout, "cancelled")
			close(f.done)
		}
	}()
	return f
}

type memoryStream struct {
	dst    *MemoryTransport
	source string
	reqID  string
	kind   Type
}

func (s *memoryStream) Send(chunk []byte, done bool) error {
	respCh := make(chan struct{})
	rpc := RPC{
		Source: s.source,
		Request: Envelope{
			Type:      s.kind,
			RequestID: s.reqID,
			Payload:   chunk,
		},
		Respond: func(Envelope, error) { close(respCh) },
	}
	select {
	case s.dst.inbound <- rpc:
	default:
		return atomixerrors.New(atomixerrors.KindUnavailable, "stream target busy")
	}
	<-respCh
	return nil
}

func (s *memoryStream) Close() error { return nil }

func (t *MemoryTransport) Stream(ctx context.Context, target string, req Envelope) (StreamHandle, error) {
	t.hub.mu.RLock()
	dst, ok := t.hub.byAddr[target]
	t.hub.mu.RUnlock()
	if !ok {
		return nil, atomixerrors.New(atomixerrors.KindUnavailable, fmt.Sprintf("no transport registered at %s", target))
	}
	if t.hub.isCut(t.addr, target) {
		return nil, atomixerrors.New(atomixerrors.KindTimeout, fmt.Sprintf("no route to %s", target))
	}
	return &memoryStream{dst: dst, source: t.addr, reqID: req.RequestID, kind: req.Type}, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.hub.mu.Lock()
	delete(t.hub.byAddr, t.addr)
	t.hub.mu.Unlock()
	close(t.inbound)
	return nil
}
