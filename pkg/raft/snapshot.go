package raft

import (
	"context"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/google/uuid"
)

func (r *Replica) takeSnapshot(f SnapshotFuture) {
	snap, err := r.buildSnapshot()
	if err != nil {
		f.respond(types.Snapshot{}, err)
		return
	}
	f.respond(snap, nil)
}

func (r *Replica) triggerAutoSnapshot() {
	if _, err := r.buildSnapshot(); err != nil {
		r.logger.Error().Err(err).Msg("automatic snapshot failed")
	}
}

// buildSnapshot asks the state machine to serialize itself at the
// last applied index, then compacts the log up to that point. Refuses
// if the state machine still needs entries at or before the target
// index (spec §4.4's CanDelete guard — e.g. an open session whose
// command history hasn't expired yet).
func (r *Replica) buildSnapshot() (types.Snapshot, error) {
	r.mu.RLock()
	index := r.lastApplied
	r.mu.RUnlock()
	if index == 0 {
		return types.Snapshot{}, atomixerrors.New(atomixerrors.KindIllegalState, "nothing applied yet")
	}
	if !r.fsm.CanDelete(index) {
		return types.Snapshot{}, atomixerrors.New(atomixerrors.KindIllegalState, "state machine still needs entries up to this index")
	}

	term, err := r.log.Term(index)
	if err != nil {
		return types.Snapshot{}, err
	}

	timer := metrics.NewTimer()
	data, err := r.fsm.Snapshot()
	if err != nil {
		return types.Snapshot{}, err
	}

	snap := types.Snapshot{Index: index, Term: term, Timestamp: r.now()}
	w, err := r.snapshots.Create(snap.Index, snap.Term, snap.Timestamp)
	if err != nil {
		return types.Snapshot{}, err
	}
	if _, err := w.Write(data); err != nil {
		return types.Snapshot{}, err
	}
	if err := w.Close(); err != nil {
		return types.Snapshot{}, err
	}
	if err := r.log.Compact(snap); err != nil {
		return types.Snapshot{}, err
	}
	r.mu.Lock()
	r.lastSnapshotIdx = index
	r.mu.Unlock()

	group, partition := r.metricLabels()
	timer.ObserveDurationVec(metrics.StorageSnapshotDuration, group, partition)
	metrics.StorageCompactionsTotal.WithLabelValues(group, partition).Inc()
	return snap, nil
}

// installSnapshotOn streams the leader's latest snapshot to member in
// SnapshotChunkSize pieces over a dedicated transport.Stream, used
// when replicateTo finds the follower's nextIndex has fallen behind
// the log's retained FirstIndex.
func (r *Replica) installSnapshotOn(member types.ConfigurationMember, term types.Term) {
	snap, data, err := r.snapshots.Open()
	if err != nil {
		r.logger.Error().Err(err).Str("member", string(member.MemberID)).Msg("no snapshot available to install on lagging follower")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RPCTimeout*4)
	defer cancel()

	reqID := uuid.NewString()
	handle, err := r.trans.Stream(ctx, member.Address, transport.Envelope{
		Type: transport.TypeInstallSnapshot, RequestID: reqID, Term: uint64(term), Leader: string(r.id),
	})
	if err != nil {
		r.logger.Error().Err(err).Str("member", string(member.MemberID)).Msg("failed opening snapshot stream")
		return
	}
	defer handle.Close()

	chunkSize := r.opts.SnapshotChunkSize
	offset := 0
	for {
		end := offset + chunkSize
		done := end >= len(data)
		if done {
			end = len(data)
		}
		req := InstallSnapshotRequest{
			ID: reqID, Term: term, Leader: r.id, Index: snap.Index, TermAt: snap.Term,
			Offset: int64(offset), Data: data[offset:end], Done: done,
		}
		if err := handle.Send(marshal(req), done); err != nil {
			r.logger.Error().Err(err).Str("member", string(member.MemberID)).Msg("snapshot chunk send failed")
			return
		}
		if done {
			break
		}
		offset = end
	}

	r.mu.Lock()
	r.matchIndex[member.MemberID] = snap.Index
	r.nextIndex[member.MemberID] = snap.Index + 1
	r.mu.Unlock()
}
