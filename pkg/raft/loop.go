package raft

import (
	"context"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/google/uuid"
)

// run is the actor goroutine's entry point: it dispatches to the
// sub-loop for the current role until shutdown, mirroring moogacs-
// raft's run/runFollower/runCandidate/runLeader split.
func (r *Replica) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.shutdownCh:
			r.drainPending(shutdownErr)
			return
		default:
		}

		switch r.getRole() {
		case types.RoleCandidate:
			r.runCandidate()
		case types.RoleLeader:
			r.runLeader()
		default: // Inactive, Passive, Reserve, Follower all wait passively
			r.runFollower()
		}
	}
}

// runFollower services RPCs and rejects client requests while waiting
// for either a heartbeat (which resets the election timer) or the
// timer to fire. Passive and Reserve members never stand for election
// (spec §4.2): their timer reset is a no-op against becoming a
// candidate, they just keep listening.
func (r *Replica) runFollower() {
	timer := r.newElectionTimer()
	defer timer.Stop()

	for {
		select {
		case <-r.shutdownCh:
			return
		case rpc := <-r.rpcCh:
			r.handleRPC(rpc)
			if role := r.getRole(); role != types.RoleFollower && role != types.RolePassive && role != types.RoleReserve {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.randomElectionTimeout())
		case req := <-r.applyReqCh:
			r.rejectApply(req, r.notLeaderErr())
		case req := <-r.configReqCh:
			r.rejectConfig(req, r.notLeaderErr())
		case f := <-r.snapshotReqCh:
			r.takeSnapshot(f)
		case f := <-r.readIndexCh:
			f.respond(Guarded[types.Index]{}, r.notLeaderErr())
		case <-timer.C:
			if r.getRole() == types.RoleFollower {
				r.setRole(types.RoleCandidate)
				return
			}
			timer.Reset(r.randomElectionTimeout())
		}
	}
}

// runCandidate runs one election: increments the term, votes for
// itself, solicits votes from every other voter concurrently, and
// waits for either a majority, a higher term (step down), an
// election timeout (retry with a fresh term next time through run),
// or an incoming RPC that ends the candidacy.
func (r *Replica) runCandidate() {
	r.mu.Lock()
	r.currentTerm++
	r.votedFor = r.id
	term := r.currentTerm
	voters := r.config.Voters()
	r.mu.Unlock()
	_ = r.log.SetTermAndVote(term, r.id)

	group, partition := r.metricLabels()
	metrics.RaftTerm.WithLabelValues(group, partition).Set(float64(term))
	metrics.RaftElectionsTotal.WithLabelValues(group, partition).Inc()

	lastIndex := r.log.LastIndex()
	lastTerm, _ := r.log.Term(lastIndex)

	needed := len(voters)/2 + 1
	votes := 0
	for _, v := range voters {
		if v.MemberID == r.id {
			votes++
		}
	}

	respCh := make(chan RequestVoteResponse, len(voters))
	for _, v := range voters {
		if v.MemberID == r.id {
			continue
		}
		go r.sendRequestVote(v, term, lastIndex, lastTerm, respCh)
	}

	if votes >= needed {
		r.becomeLeader()
		return
	}

	timer := r.newElectionTimer()
	defer timer.Stop()

	for {
		select {
		case <-r.shutdownCh:
			return
		case resp := <-respCh:
			if resp.Term > term {
				r.stepDown(resp.Term)
				return
			}
			if resp.VoteGranted {
				votes++
				if votes >= needed {
					r.becomeLeader()
					return
				}
			}
		case rpc := <-r.rpcCh:
			r.handleRPC(rpc)
			if r.getRole() != types.RoleCandidate {
				return
			}
		case req := <-r.applyReqCh:
			r.rejectApply(req, r.notLeaderErr())
		case req := <-r.configReqCh:
			r.rejectConfig(req, r.notLeaderErr())
		case f := <-r.snapshotReqCh:
			r.takeSnapshot(f)
		case f := <-r.readIndexCh:
			f.respond(Guarded[types.Index]{}, r.notLeaderErr())
		case <-timer.C:
			return
		}
	}
}

func (r *Replica) sendRequestVote(member types.ConfigurationMember, term types.Term, lastIndex types.Index, lastTerm types.Term, respCh chan<- RequestVoteResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RPCTimeout)
	defer cancel()

	req := RequestVoteRequest{
		ID: uuid.NewString(), Term: term, Candidate: r.id,
		LastLogIndex: lastIndex, LastLogTerm: lastTerm,
	}
	fut := r.trans.Send(ctx, member.Address, transport.Envelope{
		Type: transport.TypeRequestVote, RequestID: req.ID, Term: uint64(term), Payload: marshal(req),
	}, r.opts.RPCTimeout)

	env, err := fut.Response(ctx)
	if err != nil {
		return
	}
	resp, err := unmarshal[RequestVoteResponse](env.Payload)
	if err != nil {
		return
	}
	select {
	case respCh <- resp:
	case <-ctx.Done():
	}
}

// becomeLeader initializes per-follower replication tracking and
// appends the new term's no-op entry (figure-8 safety, spec §4.2: a
// leader must not count replicas of entries from earlier terms toward
// commitment until it has replicated one of its own).
func (r *Replica) becomeLeader() {
	r.mu.Lock()
	r.role = types.RoleLeader
	r.leader = r.id
	voters := r.config.Voters()
	r.nextIndex = make(map[types.MemberID]types.Index, len(voters))
	r.matchIndex = make(map[types.MemberID]types.Index, len(voters))
	last := r.log.LastIndex()
	for _, v := range voters {
		r.nextIndex[v.MemberID] = last + 1
		r.matchIndex[v.MemberID] = 0
	}
	term := r.currentTerm
	r.mu.Unlock()

	group, partition := r.metricLabels()
	metrics.RaftRole.WithLabelValues(group, partition).Set(1)

	r.logger.Info().Uint64("term", uint64(term)).Msg("became leader")

	entry := types.LogEntry{Term: term, Kind: types.EntryInitialize, Timestamp: r.now()}
	if err := r.appendLocal(entry); err != nil {
		r.logger.Error().Err(err).Msg("failed to append initialize entry")
	}
}

// pendingReadIndex is a Linearizable read awaiting confirmation that
// this leader still holds a majority of heartbeats, per spec §4.5 ("a
// leader confirms it still holds majority heartbeats before
// responding") rather than trusting its last-known role unconditionally.
type pendingReadIndex struct {
	commit types.Index
	round  uint64
	future ReadIndexFuture
	// acked is keyed by member so a follower replying across more than
	// one round (the dedicated round plus an overlapping heartbeat
	// tick) is only ever credited once toward quorum.
	acked map[types.MemberID]bool
}

// beginReadIndex records the commit index a Linearizable query may
// safely observe and kicks a fresh replication round to confirm a
// majority of voters still answer to this leader's term. With no
// voting peers (quorum of one), the leader's own word is already the
// majority and the read resolves immediately.
func (r *Replica) beginReadIndex(f ReadIndexFuture) *pendingReadIndex {
	commit := r.getCommitIndex()
	quorum := r.quorumSize()
	if quorum <= 1 {
		f.respond(Guard(r, commit), nil)
		return nil
	}
	round := r.replicateToAll(r.replCh)
	return &pendingReadIndex{commit: commit, round: round, future: f, acked: make(map[types.MemberID]bool)}
}

// quorumSize is the number of voters (including this leader) required
// to advance the commit index or confirm a Linearizable read.
func (r *Replica) quorumSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.config.Voters())/2 + 1
}

// resolveReadAcks credits res toward every pending read issued at or
// before res's round, resolving (and dropping) any that have now seen
// acks from a quorum of distinct members. A reply is only credited
// when it actually reached the follower and didn't reveal a higher
// term — a timeout or a stale-term rejection proves nothing about
// current majority support.
func resolveReadAcks(pending []*pendingReadIndex, res replicationResult, quorum int, r *Replica) []*pendingReadIndex {
	if res.err != nil || res.resp.Term > res.req.Term {
		return pending
	}
	remaining := pending[:0]
	for _, p := range pending {
		if res.round >= p.round {
			p.acked[res.member] = true
		}
		if len(p.acked)+1 >= quorum {
			p.future.respond(Guard(r, p.commit), nil)
		} else {
			remaining = append(remaining, p)
		}
	}
	return remaining
}

// runLeader replicates the log to every voter on a heartbeat cadence
// (and immediately after a new entry is appended), advances the
// commit index from matchIndex acknowledgements, and services client
// requests directly.
func (r *Replica) runLeader() {
	r.replCh = make(chan replicationResult, 64)
	defer func() { r.replCh = nil }()

	ticker := r.heartbeatTicker()
	defer ticker.Stop()

	pendingReads := make([]*pendingReadIndex, 0)
	defer func() {
		for _, p := range pendingReads {
			p.future.respond(Guarded[types.Index]{}, r.notLeaderErr())
		}
	}()

	r.replicateToAll(r.replCh)

	for {
		select {
		case <-r.shutdownCh:
			return
		case <-ticker.C:
			if r.getRole() != types.RoleLeader {
				return
			}
			r.replicateToAll(r.replCh)
		case res := <-r.replCh:
			if r.getRole() != types.RoleLeader {
				return
			}
			r.handleReplicationResult(res)
			if r.getRole() != types.RoleLeader {
				return
			}
			pendingReads = resolveReadAcks(pendingReads, res, r.quorumSize(), r)
		case rpc := <-r.rpcCh:
			r.handleRPC(rpc)
			if r.getRole() != types.RoleLeader {
				return
			}
		case req := <-r.applyReqCh:
			r.leaderApply(req)
		case req := <-r.configReqCh:
			r.leaderConfigChange(req)
		case f := <-r.snapshotReqCh:
			r.takeSnapshot(f)
		case f := <-r.readIndexCh:
			if p := r.beginReadIndex(f); p != nil {
				pendingReads = append(pendingReads, p)
			}
		}
	}
}

func (r *Replica) leaderApply(req applyRequest) {
	entry := types.LogEntry{Term: r.getTerm(), Kind: req.kind, Payload: req.payload, Timestamp: r.now()}
	if err := r.appendLocal(entry); err != nil {
		req.future.respond(ApplyResult{}, err)
		return
	}
	idx := r.log.LastIndex()
	r.applyFutures[idx] = req.future
	r.replicateToAll(r.replCh)
}

func (r *Replica) leaderConfigChange(req configRequest) {
	term := r.getTerm()

	commitTerm, err := r.log.Term(r.getCommitIndex())
	if err != nil || commitTerm != term {
		req.future.respond(types.Configuration{}, atomixerrors.New(atomixerrors.KindIllegalState,
			"leader has not yet committed an entry of its current term; cannot propose a configuration change"))
		return
	}

	newConfig := types.Configuration{Members: req.members}
	entry := types.LogEntry{Term: term, Kind: types.EntryConfiguration, Payload: marshal(newConfig), Timestamp: r.now()}
	if err := r.appendLocal(entry); err != nil {
		req.future.respond(types.Configuration{}, err)
		return
	}
	idx := r.log.LastIndex()

	r.mu.Lock()
	for _, m := range r.config.Voters() {
		if _, ok := r.nextIndex[m.MemberID]; !ok {
			r.nextIndex[m.MemberID] = idx + 1
			r.matchIndex[m.MemberID] = 0
		}
	}
	r.mu.Unlock()

	r.configFutures[idx] = req.future
	r.replicateToAll(r.replCh)
}
