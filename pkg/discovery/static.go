package discovery

import (
	"context"
	"sync"

	"github.com/cuemby/atomix/pkg/types"
)

// StaticProvider is the fixed-list discovery source: the node set is
// given once at construction and never changes on its own. It still
// satisfies the full Provider contract (its Events channel carries a
// Joined or Left event for each Add or Remove call) so callers can
// treat it interchangeably with DNSProvider.
type StaticProvider struct {
	mu     sync.RWMutex
	nodes  []Node
	events chan Event
}

// NewStaticProvider returns a StaticProvider seeded with nodes.
func NewStaticProvider(nodes []Node) *StaticProvider {
	return &StaticProvider{nodes: append([]Node(nil), nodes...), events: make(chan Event)}
}

func (p *StaticProvider) Nodes() []Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Node(nil), p.nodes...)
}

func (p *StaticProvider) Events() <-chan Event { return p.events }

// Start is a no-op beyond satisfying Provider: a static list has
// nothing to watch.
func (p *StaticProvider) Start(ctx context.Context) error { return nil }

func (p *StaticProvider) Stop() { close(p.events) }

// Add adds a node to the list, emitting a Joined event for it. Useful
// for tests and for operator-driven reconfiguration (e.g. a CLI
// command) without standing up a DNS zone.
func (p *StaticProvider) Add(node Node) {
	p.mu.Lock()
	for _, n := range p.nodes {
		if n.MemberID == node.MemberID {
			p.mu.Unlock()
			return
		}
	}
	p.nodes = append(p.nodes, node)
	p.mu.Unlock()
	p.emit(Event{Kind: Joined, Node: node})
}

// Remove drops a node from the list, emitting a Left event.
func (p *StaticProvider) Remove(id types.MemberID) {
	p.mu.Lock()
	var removed *Node
	kept := p.nodes[:0]
	for _, n := range p.nodes {
		if n.MemberID == id {
			n := n
			removed = &n
			continue
		}
		kept = append(kept, n)
	}
	p.nodes = kept
	p.mu.Unlock()
	if removed != nil {
		p.emit(Event{Kind: Left, Node: *removed})
	}
}

func (p *StaticProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		// No reconciliation loop is listening right now; Nodes() already
		// reflects the change and the next reconciliation tick will pick
		// it up regardless, so a missed event here is harmless.
	}
}
