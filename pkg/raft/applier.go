package raft

import "github.com/cuemby/atomix/pkg/types"

// Applier is the state machine a Replica drives its apply loop
// against. pkg/session implements it directly (wrapping pkg/service's
// Host), so every applied entry passes through session dedup before
// reaching a primitive. Kept deliberately narrow — Replica knows
// nothing about sessions, commands, or primitives, only that entries
// in commit order produce bytes out.
type Applier interface {
	// Apply applies a single committed entry and returns its result
	// bytes (feeds ApplyFuture.Output for the entry's own future, if
	// any is registered for this index).
	Apply(entry types.LogEntry) ([]byte, error)
	// Snapshot serializes the current state machine state.
	Snapshot() ([]byte, error)
	// Restore replaces the state machine's state from snapshot bytes,
	// called once at startup (if a snapshot exists) or after a
	// follower installs a snapshot streamed from the leader.
	Restore(data []byte) error
	// CanDelete reports whether entries at or before index may be
	// compacted away; returning false blocks compaction past it
	// (spec §4.4).
	CanDelete(index types.Index) bool
}
