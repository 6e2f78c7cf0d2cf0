// Package membership turns a pkg/discovery event stream into the fixed
// voter set a Raft partition needs (spec §2 item 7, SPEC_FULL.md §4.7).
// Discovery is advisory input only: the reconciliation loop only ever
// proposes a change through the owning replica's ChangeMembership; the
// replica's committed configuration remains the sole source of truth
// for who actually votes.
//
// A ticker-driven Start/Stop/run/reconcile loop, generalized from
// diffing node-heartbeat/container-health state against desired cluster
// state to diffing a discovery.Provider's node set against a replica's
// committed types.Configuration.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/discovery"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

// Replica is the subset of *raft.Replica the reconciler needs: reading
// the committed configuration and proposing a new one. A narrow
// interface instead of the concrete type keeps this package testable
// without a full raft harness.
type Replica interface {
	Status() raft.Status
	ChangeMembership(ctx context.Context, members []types.ConfigurationMember) raft.ConfigFuture
}

// Reconciler periodically diffs a discovery.Provider's node set
// against a partition replica's committed configuration and proposes
// AddServer/RemoveServer changes (as a single new member list, per
// ChangeMembership's contract) to close the gap.
type Reconciler struct {
	provider discovery.Provider
	replica  Replica
	interval time.Duration
	logger   zerolog.Logger

	group, partition string

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval overrides the reconciliation tick (default 10s).
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// NewReconciler returns a Reconciler for one partition's replica,
// sourcing desired membership from provider.
func NewReconciler(key types.PartitionKey, provider discovery.Provider, replica Replica, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		provider:  provider,
		replica:   replica,
		interval:  10 * time.Second,
		logger:    logger,
		group:     key.Group,
		partition: fmt.Sprintf("%d", key.Partition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.run()
}

// Stop halts the reconciliation loop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Str("group", r.group).Str("partition", r.partition).Msg("membership reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("membership reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("membership reconciler stopped")
			return
		}
	}
}

// reconcile performs one cycle: only the current leader proposes
// changes (a ChangeMembership call on a follower would just be
// rejected as NotLeader, per spec §4.2's single-writer rule), computed
// as a diff between discovery's current node set and the replica's
// committed voter list.
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MembershipReconciliationDuration)
		metrics.MembershipReconciliationCyclesTotal.Inc()
	}()

	status := r.replica.Status()
	if status.Role != types.RoleLeader {
		return nil
	}

	desired := desiredMembers(status.Configuration.Members, r.provider.Nodes())
	if sameMembers(status.Configuration.Members, desired) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	future := r.replica.ChangeMembership(ctx, desired)
	if _, err := future.Wait(ctx); err != nil {
		return fmt.Errorf("propose membership change: %w", err)
	}
	r.logger.Info().Int("members", len(desired)).Msg("proposed membership change from discovery")
	return nil
}

// desiredMembers folds discovery's known nodes into current,
// preserving every existing member's role (in particular, never
// demoting or dropping an active voter just because discovery hasn't
// reported it this cycle — discovery is advisory, not authoritative)
// and adding newly discovered nodes as active voters. A node no longer
// reported by discovery is dropped only if it is already a non-voting
// member; removing an active voter on discovery's say-so alone would
// let a transient DNS blip fracture a quorum, so that always goes
// through an explicit ChangeMembership call instead.
func desiredMembers(current []types.ConfigurationMember, nodes []discovery.Node) []types.ConfigurationMember {
	reported := make(map[types.MemberID]bool, len(nodes))
	for _, n := range nodes {
		reported[n.MemberID] = true
	}
	byID := make(map[types.MemberID]types.ConfigurationMember, len(current))
	for _, m := range current {
		if m.Role != types.MemberActive && !reported[m.MemberID] {
			continue
		}
		byID[m.MemberID] = m
	}
	for _, n := range nodes {
		if _, ok := byID[n.MemberID]; !ok {
			byID[n.MemberID] = types.ConfigurationMember{MemberID: n.MemberID, Address: n.Address, Role: types.MemberActive}
		}
	}

	out := make([]types.ConfigurationMember, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	return out
}

func sameMembers(a, b []types.ConfigurationMember) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[types.MemberID]types.ConfigurationMember, len(a))
	for _, m := range a {
		index[m.MemberID] = m
	}
	for _, m := range b {
		existing, ok := index[m.MemberID]
		if !ok || existing.Address != m.Address || existing.Role != m.Role {
			return false
		}
	}
	return true
}
