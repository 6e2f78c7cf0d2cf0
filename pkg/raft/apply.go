package raft

import (
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/types"
)

// triggerApply feeds every entry in (lastApplied, commitIndex] to the
// state machine in order, resolving any future registered for that
// index and, on a leader past its automatic snapshot threshold,
// taking a snapshot inline before returning. Entry kinds that carry no state
// machine effect of their own (Initialize, Configuration) still
// advance lastApplied — they just skip the Applier.Apply call.
func (r *Replica) triggerApply() {
	for {
		r.mu.RLock()
		lastApplied := r.lastApplied
		commit := r.commitIndex
		r.mu.RUnlock()
		if lastApplied >= commit {
			return
		}

		idx := lastApplied + 1
		entry, err := r.log.Get(idx)
		if err != nil {
			r.logger.Error().Err(err).Uint64("index", uint64(idx)).Msg("missing log entry for apply")
			return
		}

		var output []byte
		var applyErr error
		if entryNeedsApply(entry.Kind) {
			timer := metrics.NewTimer()
			output, applyErr = r.fsm.Apply(entry)
			group, partition := r.metricLabels()
			timer.ObserveDurationVec(metrics.RaftApplyDuration, group, partition)
			if applyErr != nil {
				r.logger.Error().Err(applyErr).Uint64("index", uint64(idx)).Msg("state machine apply failed")
			}
		}
		r.setLastApplied(idx)

		if f, ok := r.applyFutures[idx]; ok {
			delete(r.applyFutures, idx)
			f.respond(ApplyResult{Index: idx, Output: output}, applyErr)
		}
		if f, ok := r.configFutures[idx]; ok {
			delete(r.configFutures, idx)
			r.mu.RLock()
			cfg := r.config
			r.mu.RUnlock()
			f.respond(cfg, nil)
		}

		if r.getRole() == types.RoleLeader && uint64(idx-r.lastSnapshotIndex()) >= r.opts.SnapshotThreshold {
			r.triggerAutoSnapshot()
		}
	}
}

func entryNeedsApply(kind types.EntryKind) bool {
	switch kind {
	case types.EntryCommand, types.EntryOpenSession, types.EntryKeepAlive, types.EntryCloseSession, types.EntryQuery:
		return true
	default:
		return false
	}
}
