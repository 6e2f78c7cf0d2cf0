package raft

import (
	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
)

// handleRPC decodes and dispatches one inbound RPC, replying exactly
// once via rpc.Respond as the Transport contract requires.
func (r *Replica) handleRPC(rpc transport.RPC) {
	switch rpc.Request.Type {
	case transport.TypeAppendEntries:
		req, err := unmarshal[AppendEntriesRequest](rpc.Request.Payload)
		if err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
		resp := r.handleAppendEntries(req)
		rpc.Respond(transport.Envelope{
			Type: transport.TypeAppendEntries, RequestID: rpc.Request.RequestID,
			Term: uint64(resp.Term), Leader: string(r.getLeader()), Payload: marshal(resp),
		}, nil)

	case transport.TypeRequestVote:
		req, err := unmarshal[RequestVoteRequest](rpc.Request.Payload)
		if err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
		resp := r.handleRequestVote(req)
		rpc.Respond(transport.Envelope{
			Type: transport.TypeRequestVote, RequestID: rpc.Request.RequestID,
			Term: uint64(resp.Term), Payload: marshal(resp),
		}, nil)

	case transport.TypeInstallSnapshot:
		req, err := unmarshal[InstallSnapshotRequest](rpc.Request.Payload)
		if err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
		resp := r.handleInstallSnapshot(req)
		rpc.Respond(transport.Envelope{
			Type: transport.TypeInstallSnapshot, RequestID: rpc.Request.RequestID,
			Term: uint64(resp.Term), Payload: marshal(resp),
		}, nil)

	default:
		rpc.Respond(transport.Envelope{}, atomixerrors.New(atomixerrors.KindProtocolMismatch, "unknown rpc type: "+string(rpc.Request.Type)))
	}
}

// handleAppendEntries is the follower-side replication/heartbeat
// handler: term checks and step-down, then the log consistency check,
// then entry-by-entry append with conflict truncation, then commit
// index advancement.
func (r *Replica) handleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	r.mu.Lock()
	if req.Term < r.currentTerm {
		term := r.currentTerm
		r.mu.Unlock()
		return AppendEntriesResponse{ID: req.ID, Term: term, Succeeded: false, LastLogIndex: r.log.LastIndex()}
	}
	if req.Term > r.currentTerm || r.role == types.RoleCandidate {
		r.currentTerm = req.Term
		r.votedFor = ""
		if r.role != types.RolePassive && r.role != types.RoleReserve {
			r.role = types.RoleFollower
		}
		_ = r.log.SetTermAndVote(r.currentTerm, r.votedFor)
	}
	r.leader = req.Leader
	term := r.currentTerm
	r.mu.Unlock()

	if req.PrevIndex > 0 {
		localTerm, err := r.log.Term(req.PrevIndex)
		if err != nil || localTerm != req.PrevTerm {
			conflictIdx, conflictTerm := r.findConflict(req.PrevIndex)
			return AppendEntriesResponse{
				ID: req.ID, Term: term, Succeeded: false, LastLogIndex: r.log.LastIndex(),
				ConflictTerm: conflictTerm, ConflictFirstIdx: conflictIdx,
			}
		}
	}

	for _, e := range req.Entries {
		if existing, err := r.log.Get(e.Index); err == nil {
			if existing.Term == e.Term {
				continue // already have this entry
			}
			if err := r.log.TruncateAfter(e.Index-1, r.getCommitIndex()); err != nil {
				return AppendEntriesResponse{ID: req.ID, Term: term, Succeeded: false, LastLogIndex: r.log.LastIndex()}
			}
		}
		if err := r.log.Append([]types.LogEntry{e}); err != nil {
			return AppendEntriesResponse{ID: req.ID, Term: term, Succeeded: false, LastLogIndex: r.log.LastIndex()}
		}
		if e.Kind == types.EntryConfiguration {
			r.applyConfigurationEntry(e)
		}
	}

	if req.Commit > r.getCommitIndex() {
		newCommit := req.Commit
		if last := r.log.LastIndex(); newCommit > last {
			newCommit = last
		}
		r.setCommitIndex(newCommit)
		r.triggerApply()
	}

	return AppendEntriesResponse{ID: req.ID, Term: term, Succeeded: true, LastLogIndex: r.log.LastIndex()}
}

// findConflict walks backward from prevIndex to the first entry of
// the conflicting term, the value AppendEntriesResponse.ConflictFirstIdx
// carries so the leader can jump nextIndex back a whole term at a time
// instead of decrementing by one per round trip.
func (r *Replica) findConflict(prevIndex types.Index) (types.Index, types.Term) {
	entry, err := r.log.Get(prevIndex)
	if err != nil {
		return r.log.FirstIndex(), 0
	}
	conflictTerm := entry.Term
	idx := prevIndex
	for idx > r.log.FirstIndex() {
		e, err := r.log.Get(idx - 1)
		if err != nil || e.Term != conflictTerm {
			break
		}
		idx--
	}
	return idx, conflictTerm
}

// handleRequestVote applies the Raft vote-granting rule: reject stale
// terms, step down on newer ones, then grant at most one vote per
// term to whichever candidate's log is at least as up to date as
// ours.
func (r *Replica) handleRequestVote(req RequestVoteRequest) RequestVoteResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Term < r.currentTerm {
		return RequestVoteResponse{ID: req.ID, Term: r.currentTerm, VoteGranted: false}
	}
	if req.Term > r.currentTerm {
		r.currentTerm = req.Term
		r.votedFor = ""
		if r.role != types.RolePassive && r.role != types.RoleReserve {
			r.role = types.RoleFollower
		}
	}

	lastIndex := r.log.LastIndex()
	lastTerm, _ := r.log.Term(lastIndex)
	logOK := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

	granted := false
	if (r.votedFor == "" || r.votedFor == req.Candidate) && logOK && r.config.Contains(req.Candidate) {
		r.votedFor = req.Candidate
		granted = true
	}
	_ = r.log.SetTermAndVote(r.currentTerm, r.votedFor)
	return RequestVoteResponse{ID: req.ID, Term: r.currentTerm, VoteGranted: granted}
}

// handleInstallSnapshot is the follower side of chunked snapshot
// transfer (spec §4.2): each chunk is appended to a pending writer
// keyed by (index, term); the final chunk commits it, restores the
// state machine, and compacts the log.
func (r *Replica) handleInstallSnapshot(req InstallSnapshotRequest) InstallSnapshotResponse {
	r.mu.Lock()
	if req.Term < r.currentTerm {
		term := r.currentTerm
		r.mu.Unlock()
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}
	if req.Term > r.currentTerm {
		r.currentTerm = req.Term
		r.votedFor = ""
		if r.role != types.RolePassive && r.role != types.RoleReserve {
			r.role = types.RoleFollower
		}
	}
	r.leader = req.Leader
	term := r.currentTerm
	r.mu.Unlock()

	if r.inbound == nil || r.inbound.index != req.Index || r.inbound.term != req.TermAt {
		w, err := r.snapshots.Create(req.Index, req.TermAt, 0)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to open snapshot writer")
			return InstallSnapshotResponse{ID: req.ID, Term: term}
		}
		r.inbound = &inboundSnapshot{index: req.Index, term: req.TermAt, writer: w}
	}
	if _, err := r.inbound.writer.Write(req.Data); err != nil {
		r.logger.Error().Err(err).Msg("failed writing snapshot chunk")
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}
	if !req.Done {
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}

	if err := r.inbound.writer.Close(); err != nil {
		r.logger.Error().Err(err).Msg("failed committing installed snapshot")
		r.inbound = nil
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}
	snap, data, err := r.snapshots.Open()
	r.inbound = nil
	if err != nil {
		r.logger.Error().Err(err).Msg("failed reopening installed snapshot")
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}
	if err := r.fsm.Restore(data); err != nil {
		r.logger.Error().Err(err).Msg("failed restoring state machine from installed snapshot")
		return InstallSnapshotResponse{ID: req.ID, Term: term}
	}
	if err := r.log.Compact(snap); err != nil {
		r.logger.Error().Err(err).Msg("failed compacting log after snapshot install")
	}
	r.mu.Lock()
	r.lastSnapshotIdx = snap.Index
	r.mu.Unlock()
	r.setCommitIndex(snap.Index)
	r.setLastApplied(snap.Index)
	return InstallSnapshotResponse{ID: req.ID, Term: term}
}
