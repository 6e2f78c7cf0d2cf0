// Package discovery implements the discovery contract of spec §6: an
// event stream of {Join(node), Leave(node)} plus a Nodes() snapshot.
// Discovery is advisory input only — it never touches a partition's
// committed Raft configuration directly; pkg/membership consumes the
// stream and proposes membership changes through the owning replica.
//
// Uses miekg/dns for SRV resolution. Leave is emitted when a node drops
// out of the provider's own node list (a static Remove, or an SRV answer
// that no longer names it); nodes are not health-probed.
package discovery

import (
	"context"

	"github.com/cuemby/atomix/pkg/types"
)

// EventKind distinguishes a discovery event.
type EventKind int

const (
	// Joined reports a node becoming visible to this provider.
	Joined EventKind = iota
	// Left reports a node becoming unresponsive or having been removed
	// from the underlying source (the static list, or DNS SRV records).
	Left
)

func (k EventKind) String() string {
	if k == Joined {
		return "Joined"
	}
	return "Left"
}

// Node is one member as discovery sees it: an address to dial, nothing
// more. Role/voter status belongs to Raft's own Configuration, never to
// discovery (spec §4.7: "Discovery is advisory input only").
type Node struct {
	MemberID types.MemberID
	Address  string
}

// Event is one Join or Leave notification.
type Event struct {
	Kind EventKind
	Node Node
}

// Provider is the discovery contract every source (static list, DNS
// SRV) implements: a snapshot plus a stream of deltas since the
// snapshot was drawn. Callers that only need the current membership
// call Nodes(); pkg/membership's reconciliation loop also drains
// Events so short gaps between reconciliation ticks aren't missed.
type Provider interface {
	// Nodes returns the current known node set.
	Nodes() []Node

	// Events returns a channel of Join/Leave notifications. Closed when
	// the provider is stopped.
	Events() <-chan Event

	// Start begins watching for changes. Must be called before Events
	// delivers anything.
	Start(ctx context.Context) error

	// Stop releases resources held by the provider.
	Stop()
}
