// Package raft implements the per-partition consensus engine described
// in spec §4.2: one Replica per partition member, driving leader
// election, log replication, and chunked snapshot installation over a
// pluggable pkg/transport and a pluggable pkg/storage.Log. Grounded
// structurally on moogacs-raft's Raft type (one long-lived actor
// goroutine dispatching to per-role sub-loops), adapted from its three
// voting roles to spec §4.2's six (Inactive, Passive, Reserve,
// Follower, Candidate, Leader) and from committed-only membership
// changes to changes effective on receipt.
//
// A Replica is single-writer: every mutation to its term, role, log,
// and configuration happens on the one goroutine spawned by New. All
// other goroutines (RPC handlers, client callers) communicate with it
// exclusively through channels, never by touching its fields directly.
package raft

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/log"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

// metricLabels returns this replica's (group, partition) metric label
// pair, computed fresh per call site since metric updates sit on cold
// paths (role/term/index transitions) relative to the apply loop's hot
// path.
func (r *Replica) metricLabels() (group, partition string) {
	return r.key.Group, strconv.FormatInt(int64(r.key.Partition), 10)
}

var shutdownErr = atomixerrors.New(atomixerrors.KindUnavailable, "replica shut down")

type applyRequest struct {
	kind    types.EntryKind
	payload []byte
	future  ApplyFuture
}

type configRequest struct {
	members []types.ConfigurationMember
	future  ConfigFuture
}

type inboundSnapshot struct {
	index  types.Index
	term   types.Term
	writer storage.SnapshotWriter
}

type replicationResult struct {
	member types.MemberID
	req    AppendEntriesRequest
	resp   AppendEntriesResponse
	err    error
	round  uint64
}

// Status is a point-in-time snapshot of a Replica's observable state,
// safe to read from any goroutine.
type Status struct {
	Role          types.Role
	Term          types.Term
	Leader        types.MemberID
	CommitIndex   types.Index
	LastApplied   types.Index
	Configuration types.Configuration
}

// Replica drives one partition's Raft state machine.
type Replica struct {
	id   types.MemberID
	key  types.PartitionKey
	opts Options

	log       storage.Log
	snapshots storage.SnapshotStore
	trans     transport.Transport
	fsm       Applier

	logger zerolog.Logger

	mu          sync.RWMutex
	role        types.Role
	currentTerm types.Term
	votedFor    types.MemberID
	leader      types.MemberID
	config      types.Configuration

	commitIndex     types.Index
	lastApplied     types.Index
	lastSnapshotIdx types.Index

	// Valid only while role == Leader; reset on every becomeLeader.
	nextIndex  map[types.MemberID]types.Index
	matchIndex map[types.MemberID]types.Index
	// replCh is non-nil only inside runLeader, so leaderApply/
	// leaderConfigChange can kick an immediate replication round
	// instead of waiting for the next heartbeat tick.
	replCh chan replicationResult
	// round counts replicateToAll invocations. A Linearizable read
	// tags the round it kicks off and only counts acks from that round
	// or later toward quorum, so a reply in flight before the read was
	// requested can't be mistaken for proof the leader holds the
	// majority right now.
	round uint64

	// Touched only by the actor goroutine — no lock needed.
	applyFutures  map[types.Index]ApplyFuture
	configFutures map[types.Index]ConfigFuture
	inbound       *inboundSnapshot

	applyReqCh    chan applyRequest
	configReqCh   chan configRequest
	snapshotReqCh chan SnapshotFuture
	readIndexCh   chan ReadIndexFuture
	rpcCh         <-chan transport.RPC

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New restores persistent state from lg and snaps and starts the
// replica's actor goroutine. initialConfig seeds the configuration
// before any ConfigurationEntry has been seen (the bootstrap member
// list).
func New(id types.MemberID, key types.PartitionKey, opts Options, lg storage.Log, snaps storage.SnapshotStore, trans transport.Transport, fsm Applier, initialConfig types.Configuration) (*Replica, error) {
	term, err := lg.CurrentTerm()
	if err != nil {
		return nil, err
	}
	voted, err := lg.VotedFor()
	if err != nil {
		return nil, err
	}

	r := &Replica{
		id:            id,
		key:           key,
		opts:          opts,
		log:           lg,
		snapshots:     snaps,
		trans:         trans,
		fsm:           fsm,
		logger:        log.WithPartition(key.Group, int(key.Partition)),
		role:          types.RoleFollower,
		currentTerm:   term,
		votedFor:      voted,
		config:        initialConfig,
		applyFutures:  make(map[types.Index]ApplyFuture),
		configFutures: make(map[types.Index]ConfigFuture),
		applyReqCh:    make(chan applyRequest),
		configReqCh:   make(chan configRequest),
		snapshotReqCh: make(chan SnapshotFuture),
		readIndexCh:   make(chan ReadIndexFuture),
		rpcCh:         trans.Consumer(),
		shutdownCh:    make(chan struct{}),
	}

	if snap, data, err := snaps.Open(); err != nil && err != storage.ErrNotFound {
		return nil, err
	} else if err == nil {
		if err := fsm.Restore(data); err != nil {
			return nil, err
		}
		r.lastApplied = snap.Index
		r.commitIndex = snap.Index
		r.lastSnapshotIdx = snap.Index
	} else if snap, ok, err := lg.LoadSnapshot(); err != nil {
		return nil, err
	} else if ok {
		// Log has a snapshot pointer but the snapshot store holds no
		// bytes for it (e.g. a fresh FileSnapshotStore/BoltCAStore pair
		// seeded from a log-only backup) — restore position without
		// restoring state, since there is nothing to restore from.
		r.lastApplied = snap.Index
		r.commitIndex = snap.Index
		r.lastSnapshotIdx = snap.Index
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Apply appends kind/payload as a new log entry and, once committed
// and applied to the state machine, resolves the returned future with
// its result bytes. If this replica isn't currently leading its
// partition, the future resolves immediately with NotLeader (carrying
// the known leader's address) or NoLeader (when no leader is known).
func (r *Replica) Apply(ctx context.Context, kind types.EntryKind, payload []byte) ApplyFuture {
	f := newFuture[ApplyResult]()
	select {
	case r.applyReqCh <- applyRequest{kind: kind, payload: payload, future: f}:
	case <-ctx.Done():
		f.respond(ApplyResult{}, ctx.Err())
	case <-r.shutdownCh:
		f.respond(ApplyResult{}, atomixerrors.New(atomixerrors.KindUnavailable, "replica shut down"))
	}
	return f
}

// ChangeMembership proposes a new member list. Per spec §4.2, single-
// server changes take effect on the leader (and each follower that
// receives the entry) immediately, before the entry commits; the
// returned future resolves once the change has also been applied.
func (r *Replica) ChangeMembership(ctx context.Context, members []types.ConfigurationMember) ConfigFuture {
	f := newFuture[types.Configuration]()
	select {
	case r.configReqCh <- configRequest{members: members, future: f}:
	case <-ctx.Done():
		f.respond(types.Configuration{}, ctx.Err())
	case <-r.shutdownCh:
		f.respond(types.Configuration{}, atomixerrors.New(atomixerrors.KindUnavailable, "replica shut down"))
	}
	return f
}

// Snapshot triggers an out-of-band snapshot of the current applied
// state, independent of the automatic SnapshotThreshold trigger.
func (r *Replica) Snapshot() SnapshotFuture {
	f := newFuture[types.Snapshot]()
	select {
	case r.snapshotReqCh <- f:
	case <-r.shutdownCh:
		f.respond(types.Snapshot{}, atomixerrors.New(atomixerrors.KindUnavailable, "replica shut down"))
	}
	return f
}

// ReadIndex returns the commit index a Linearizable query may safely
// observe once this replica's state machine has applied up to it,
// guarded by the replica's term and role at capture time (spec §4.5).
// The caller (pkg/router) must await lastApplied catching up to the
// returned index and only then call ResolveTyped on the Guarded value
// to confirm this replica is still the same leader it was when the
// index was captured; resolving it here, before that wait, would make
// the guard a no-op since nothing suspends in between.
func (r *Replica) ReadIndex(ctx context.Context) (Guarded[types.Index], error) {
	f := newFuture[Guarded[types.Index]]()
	select {
	case r.readIndexCh <- f:
	case <-ctx.Done():
		return Guarded[types.Index]{}, ctx.Err()
	case <-r.shutdownCh:
		return Guarded[types.Index]{}, shutdownErr
	}
	return f.Wait(ctx)
}

// AwaitApplied blocks until lastApplied reaches at least index, or ctx
// is cancelled. Used by pkg/router after ReadIndex to confirm the state
// machine has caught up before serving a Linearizable read.
func (r *Replica) AwaitApplied(ctx context.Context, index types.Index) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.getLastApplied() >= index {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.shutdownCh:
			return shutdownErr
		case <-ticker.C:
		}
	}
}

func (r *Replica) getLastApplied() types.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastApplied
}

// Status returns a consistent snapshot of the replica's current state.
func (r *Replica) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Role:          r.role,
		Term:          r.currentTerm,
		Leader:        r.leader,
		CommitIndex:   r.commitIndex,
		LastApplied:   r.lastApplied,
		Configuration: r.config,
	}
}

// Shutdown stops the actor goroutine, failing every pending future,
// and blocks until it has exited.
func (r *Replica) Shutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdownCh) })
	r.wg.Wait()
}

func (r *Replica) getRole() types.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

func (r *Replica) setRole(role types.Role) {
	r.mu.Lock()
	r.role = role
	r.mu.Unlock()

	group, partition := r.metricLabels()
	isLeader := float64(0)
	if role == types.RoleLeader {
		isLeader = 1
	}
	metrics.RaftRole.WithLabelValues(group, partition).Set(isLeader)
}

func (r *Replica) getTerm() types.Term {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTerm
}

func (r *Replica) getLeader() types.MemberID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leader
}

func (r *Replica) getCommitIndex() types.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commitIndex
}

func (r *Replica) setCommitIndex(idx types.Index) {
	r.mu.Lock()
	r.commitIndex = idx
	r.mu.Unlock()

	group, partition := r.metricLabels()
	metrics.RaftCommitIndex.WithLabelValues(group, partition).Set(float64(idx))
}

func (r *Replica) setLastApplied(idx types.Index) {
	r.mu.Lock()
	r.lastApplied = idx
	r.mu.Unlock()

	group, partition := r.metricLabels()
	metrics.RaftAppliedIndex.WithLabelValues(group, partition).Set(float64(idx))
}

func (r *Replica) lastSnapshotIndex() types.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSnapshotIdx
}

func (r *Replica) now() int64 { return time.Now().UnixNano() }

func (r *Replica) randomElectionTimeout() time.Duration {
	span := r.opts.ElectionTimeoutMax - r.opts.ElectionTimeoutMin
	if span <= 0 {
		return r.opts.ElectionTimeoutMin
	}
	return r.opts.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

func (r *Replica) newElectionTimer() *time.Timer {
	return time.NewTimer(r.randomElectionTimeout())
}

// stepDown moves the replica to Follower at the given (higher) term,
// clearing its vote. Called whenever an RPC or reply reveals a higher
// term, per the Raft rule that every participant defers to it.
func (r *Replica) stepDown(term types.Term) {
	r.mu.Lock()
	r.currentTerm = term
	r.votedFor = ""
	r.role = types.RoleFollower
	r.mu.Unlock()
	_ = r.log.SetTermAndVote(term, "")

	group, partition := r.metricLabels()
	metrics.RaftTerm.WithLabelValues(group, partition).Set(float64(term))
	metrics.RaftRole.WithLabelValues(group, partition).Set(0)
}

// appendLocal assigns the next index and durably appends entry,
// applying configuration entries to r.config immediately (effective
// on receipt, spec §4.2).
func (r *Replica) appendLocal(entry types.LogEntry) error {
	entry.Index = r.log.LastIndex() + 1
	if err := r.log.Append([]types.LogEntry{entry}); err != nil {
		return err
	}
	if entry.Kind == types.EntryConfiguration {
		r.applyConfigurationEntry(entry)
	}
	group, partition := r.metricLabels()
	metrics.RaftLogIndex.WithLabelValues(group, partition).Set(float64(entry.Index))
	return nil
}

func (r *Replica) applyConfigurationEntry(entry types.LogEntry) {
	cfg, err := unmarshal[types.Configuration](entry.Payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to decode configuration entry")
		return
	}
	cfg.Index = entry.Index
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
}

func (r *Replica) notLeaderErr() error {
	r.mu.RLock()
	leader := r.leader
	r.mu.RUnlock()
	if leader == "" {
		return atomixerrors.New(atomixerrors.KindNoLeader, "no known leader")
	}
	return atomixerrors.NotLeader(r.addressOf(leader))
}

func (r *Replica) addressOf(id types.MemberID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.config.Members {
		if m.MemberID == id {
			return m.Address
		}
	}
	return string(id)
}

func (r *Replica) rejectApply(req applyRequest, err error) {
	req.future.respond(ApplyResult{}, err)
}

func (r *Replica) rejectConfig(req configRequest, err error) {
	req.future.respond(types.Configuration{}, err)
}

func (r *Replica) drainPending(err error) {
	for idx, f := range r.applyFutures {
		f.respond(ApplyResult{}, err)
		delete(r.applyFutures, idx)
	}
	for idx, f := range r.configFutures {
		f.respond(types.Configuration{}, err)
		delete(r.configFutures, idx)
	}
}
