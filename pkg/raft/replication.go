package raft

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/google/uuid"
)

func (r *Replica) heartbeatTicker() *time.Ticker {
	return time.NewTicker(r.opts.HeartbeatInterval)
}

// replicateToAll fans out one AppendEntries (or InstallSnapshot, for a
// follower that has fallen behind the retained log) to every voter
// other than the leader itself, concurrently. Results land on replCh
// for the leader loop to fold in. The returned round number identifies
// this fan-out so a Linearizable read can tell which replies confirm
// the leader is still in contact with a majority as of the read.
func (r *Replica) replicateToAll(replCh chan<- replicationResult) uint64 {
	r.mu.Lock()
	r.round++
	round := r.round
	term := r.currentTerm
	commit := r.commitIndex
	voters := r.config.Voters()
	r.mu.Unlock()

	for _, v := range voters {
		if v.MemberID == r.id {
			continue
		}
		go r.replicateTo(v, term, commit, round, replCh)
	}
	return round
}

func (r *Replica) replicateTo(member types.ConfigurationMember, term types.Term, commit types.Index, round uint64, replCh chan<- replicationResult) {
	r.mu.RLock()
	next := r.nextIndex[member.MemberID]
	r.mu.RUnlock()
	if next == 0 {
		next = r.log.FirstIndex()
	}

	if next < r.log.FirstIndex() {
		r.installSnapshotOn(member, term)
		return
	}

	prevIndex := next - 1
	prevTerm, _ := r.log.Term(prevIndex)

	end := r.log.LastIndex()
	if max := next + types.Index(r.opts.MaxAppendEntries) - 1; end > max {
		end = max
	}
	var entries []types.LogEntry
	if end >= next {
		entries, _ = r.log.GetRange(next, end)
	}

	req := AppendEntriesRequest{
		ID: uuid.NewString(), Term: term, Leader: r.id,
		PrevIndex: prevIndex, PrevTerm: prevTerm,
		Entries: entries, Commit: commit,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RPCTimeout)
	defer cancel()
	timer := metrics.NewTimer()
	fut := r.trans.Send(ctx, member.Address, transport.Envelope{
		Type: transport.TypeAppendEntries, RequestID: req.ID, Term: uint64(term), Leader: string(r.id), Payload: marshal(req),
	}, r.opts.RPCTimeout)

	env, err := fut.Response(ctx)
	group, partition := r.metricLabels()
	timer.ObserveDurationVec(metrics.RaftReplicationDuration, group, partition)
	if err != nil {
		select {
		case replCh <- replicationResult{member: member.MemberID, req: req, err: err, round: round}:
		case <-ctx.Done():
		}
		return
	}
	resp, err := unmarshal[AppendEntriesResponse](env.Payload)
	select {
	case replCh <- replicationResult{member: member.MemberID, req: req, resp: resp, err: err, round: round}:
	case <-ctx.Done():
	}
}

// handleReplicationResult folds one AppendEntries reply into
// nextIndex/matchIndex (or steps down on a higher term), then attempts
// to advance the commit index.
func (r *Replica) handleReplicationResult(res replicationResult) {
	if res.err != nil {
		return // transient; the next heartbeat retries at the same nextIndex
	}
	if res.resp.Term > res.req.Term {
		r.stepDown(res.resp.Term)
		return
	}

	r.mu.Lock()
	if res.resp.Succeeded {
		matched := res.req.PrevIndex
		if n := len(res.req.Entries); n > 0 {
			matched = res.req.Entries[n-1].Index
		}
		if matched > r.matchIndex[res.member] {
			r.matchIndex[res.member] = matched
		}
		r.nextIndex[res.member] = matched + 1
	} else if res.resp.ConflictFirstIdx > 0 {
		r.nextIndex[res.member] = res.resp.ConflictFirstIdx
	} else if r.nextIndex[res.member] > 1 {
		r.nextIndex[res.member]--
	}
	r.mu.Unlock()

	r.advanceCommitIndex()
}

// advanceCommitIndex raises commitIndex to the highest index
// replicated to a majority of voters, but only when that index's
// entry belongs to the leader's current term — the log-matching
// safety rule that prevents an old-term entry from being committed by
// a coincidental future majority (spec §4.2, Raft §5.4.2).
func (r *Replica) advanceCommitIndex() {
	r.mu.Lock()
	voters := r.config.Voters()
	term := r.currentTerm
	match := make([]types.Index, 0, len(voters))
	for _, v := range voters {
		if v.MemberID == r.id {
			match = append(match, r.log.LastIndex())
			continue
		}
		match = append(match, r.matchIndex[v.MemberID])
	}
	commit := r.commitIndex
	r.mu.Unlock()

	if len(match) == 0 {
		return
	}
	sort.Slice(match, func(i, j int) bool { return match[i] < match[j] })
	majorityIdx := match[(len(match)-1)/2]
	if majorityIdx <= commit {
		return
	}

	entryTerm, err := r.log.Term(majorityIdx)
	if err != nil || entryTerm != term {
		return
	}
	r.setCommitIndex(majorityIdx)
	r.triggerApply()
}
