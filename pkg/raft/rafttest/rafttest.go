// Package rafttest is an in-process multi-replica harness for
// exercising pkg/raft without a network, a disk, or a real state
// machine: spin up N members over a shared fabric, wait for a
// condition, assert on cluster-wide state.
package rafttest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
)

// EchoFSM is a minimal raft.Applier recording every applied payload in
// order, so tests can assert on apply order and content across a
// Cluster's members without a real session/primitive stack.
type EchoFSM struct {
	mu      sync.Mutex
	applied [][]byte
	state   []byte
}

func NewEchoFSM() *EchoFSM { return &EchoFSM{} }

func (f *EchoFSM) Apply(entry types.LogEntry) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, entry.Payload)
	f.state = entry.Payload
	return entry.Payload, nil
}

func (f *EchoFSM) Snapshot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.state...), nil
}

func (f *EchoFSM) Restore(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = append([]byte(nil), data...)
	return nil
}

// CanDelete is always true: EchoFSM keeps no history that would block
// compaction.
func (f *EchoFSM) CanDelete(types.Index) bool { return true }

// Applied returns a copy of every payload applied so far, in order.
func (f *EchoFSM) Applied() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.applied))
	copy(out, f.applied)
	return out
}

// hubController is the subset of the in-memory transport hub's method
// set a Cluster needs to simulate a network partition. transport's hub
// type itself is unexported, so this lets Cluster hold one without
// naming it.
type hubController interface {
	Partition(addr string)
	Heal(addr string)
}

// Cluster wires n in-process Replicas together over a shared memory
// transport hub, each with its own MemoryLog, MemorySnapshotStore, and
// EchoFSM.
type Cluster struct {
	Replicas map[types.MemberID]*raft.Replica
	FSMs     map[types.MemberID]*EchoFSM

	hub hubController
}

// NewCluster bootstraps n members, all starting from the same voter
// configuration, and starts each one's actor goroutine.
func NewCluster(n int, opts raft.Options) (*Cluster, error) {
	hub := transport.NewMemoryHub()

	members := make([]types.ConfigurationMember, 0, n)
	for i := 0; i < n; i++ {
		id := types.MemberID(fmt.Sprintf("member-%d", i))
		members = append(members, types.ConfigurationMember{MemberID: id, Address: string(id), Role: types.MemberActive})
	}
	config := types.Configuration{Members: members}

	c := &Cluster{
		Replicas: make(map[types.MemberID]*raft.Replica, n),
		FSMs:     make(map[types.MemberID]*EchoFSM, n),
		hub:      hub,
	}

	for _, m := range members {
		l := storage.NewMemoryLog()
		snaps := storage.NewMemorySnapshotStore()
		trans := transport.NewMemoryTransport(hub, m.Address)
		fsm := NewEchoFSM()

		rep, err := raft.New(m.MemberID, types.PartitionKey{Group: "test", Partition: 0}, opts, l, snaps, trans, fsm, config)
		if err != nil {
			return nil, err
		}
		c.Replicas[m.MemberID] = rep
		c.FSMs[m.MemberID] = fsm
	}
	return c, nil
}

// Leader returns a replica currently reporting the Leader role, or nil
// if none has won an election yet.
func (c *Cluster) Leader() *raft.Replica {
	for _, r := range c.Replicas {
		if r.Status().Role == types.RoleLeader {
			return r
		}
	}
	return nil
}

// AwaitLeader polls until a leader is elected or timeout elapses.
func (c *Cluster) AwaitLeader(timeout time.Duration) *raft.Replica {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l := c.Leader(); l != nil {
			return l
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// AwaitApplied polls until every replica has applied at least n
// entries or timeout elapses, returning false on timeout.
func (c *Cluster) AwaitApplied(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ready := true
		for _, fsm := range c.FSMs {
			if len(fsm.Applied()) < n {
				ready = false
				break
			}
		}
		if ready {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Partition cuts every RPC to and from id until Heal(id) is called,
// simulating a member (e.g. a leader) severed from the rest of the
// cluster while the transport otherwise keeps running.
func (c *Cluster) Partition(id types.MemberID) {
	c.hub.Partition(string(id))
}

// Heal restores id's connectivity after a prior Partition.
func (c *Cluster) Heal(id types.MemberID) {
	c.hub.Heal(string(id))
}

// Shutdown stops every replica in the cluster.
func (c *Cluster) Shutdown() {
	for _, r := range c.Replicas {
		r.Shutdown()
	}
}
