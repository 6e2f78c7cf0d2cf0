package raft

import (
	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/types"
)

// precondition is the replica state an operation depended on when it
// released the actor's single-writer context for a suspension point
// (log fsync, network RPC, snapshot chunk) — spec §5: "when its
// continuation runs it must re-check invariants (term unchanged,
// still leader, configuration unchanged) before acting on the
// result."
type precondition struct {
	term        types.Term
	role        types.Role
	configIndex types.Index
}

func (r *Replica) snapshotPrecondition() precondition {
	return precondition{term: r.currentTerm, role: r.role, configIndex: r.config.Index}
}

// stillValid reports whether p still describes the replica's state.
// Safe to call from any goroutine — ResolveTyped is typically called
// by the client-facing caller of ReadIndex, not the actor goroutine
// itself, after it has awaited something (e.g. lastApplied catching
// up) that the actor may have raced ahead of.
func (r *Replica) stillValid(p precondition) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTerm == p.term && r.role == p.role && r.config.Index == p.configIndex
}

// Guarded[T] pairs a value produced before a suspension point with the
// precondition it depended on. Code that awaits I/O captures one
// before releasing the actor context, then calls ResolveTyped on the
// other side to find out whether its result is still usable or must be
// discarded as Stale.
type Guarded[T any] struct {
	value T
	pre   precondition
}

// Value returns g's wrapped value without checking whether its
// precondition still holds. Used by a caller that needs the raw value
// to drive an intervening wait (e.g. AwaitApplied) before the final
// ResolveTyped check.
func (g Guarded[T]) Value() T { return g.value }

// Guard snapshots the replica's current invariants alongside value,
// to be rechecked after an intervening suspension point.
func Guard[T any](r *Replica, value T) Guarded[T] {
	return Guarded[T]{value: value, pre: r.snapshotPrecondition()}
}

// ResolveTyped returns g's value if the replica's invariants are
// unchanged, or Stale (KindUnavailable — spec §5; the caller retries)
// if term/role/configuration moved on while the operation was
// suspended.
func ResolveTyped[T any](r *Replica, g Guarded[T]) (T, error) {
	if !r.stillValid(g.pre) {
		var zero T
		return zero, atomixerrors.New(atomixerrors.KindUnavailable, "stale: preconditions changed during suspension")
	}
	return g.value, nil
}
