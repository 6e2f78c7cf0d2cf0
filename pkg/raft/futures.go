package raft

import (
	"context"

	"github.com/cuemby/atomix/pkg/types"
)

// future is the shared completion primitive every async Replica
// operation returns, grounded on moogacs-raft's logFuture/errorFuture
// family — generalized here into one generic type reused for Apply,
// ChangeMembership, and Snapshot instead of one bespoke struct
// per RPC kind.
type future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) respond(result T, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the operation completes or ctx is cancelled.
func (f *future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ApplyResult is the outcome of a committed command: its log index
// and whatever bytes the Applier returned.
type ApplyResult struct {
	Index  types.Index
	Output []byte
}

// ApplyFuture resolves once a submitted command entry has been
// applied to the state machine.
type ApplyFuture = *future[ApplyResult]

// ConfigFuture resolves once a membership change entry has been
// committed and applied.
type ConfigFuture = *future[types.Configuration]

// NewResolvedConfigFuture returns a ConfigFuture that has already
// resolved to (cfg, err). Exported as a test seam for packages (such
// as pkg/membership) that depend on the Replica interface's
// ChangeMembership signature but want to exercise it against a fake
// rather than a full raft harness.
func NewResolvedConfigFuture(cfg types.Configuration, err error) ConfigFuture {
	f := newFuture[types.Configuration]()
	f.respond(cfg, err)
	return f
}

// SnapshotFuture resolves once a manually triggered snapshot completes.
type SnapshotFuture = *future[types.Snapshot]

// ReadIndexFuture resolves once a linearizable read's commit index has
// been captured under the replica's current term, guarded so the
// caller can detect a leadership change that happened while it was
// waiting for lastApplied to catch up to that index (spec §4.5).
type ReadIndexFuture = *future[Guarded[types.Index]]
