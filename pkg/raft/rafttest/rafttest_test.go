package rafttest

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/types"
)

func fastOptions() raft.Options {
	return raft.Options{
		HeartbeatInterval:  20 * time.Millisecond,
		ElectionTimeoutMin: 80 * time.Millisecond,
		ElectionTimeoutMax: 160 * time.Millisecond,
		RPCTimeout:         200 * time.Millisecond,
		MaxAppendEntries:   64,
		SnapshotThreshold:  1000,
		SnapshotChunkSize:  4096,
	}
}

func TestClusterElectsLeader(t *testing.T) {
	c, err := NewCluster(3, fastOptions())
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer c.Shutdown()

	leader := c.AwaitLeader(2 * time.Second)
	if leader == nil {
		t.Fatal("no leader elected within timeout")
	}
	if leader.Status().Role != types.RoleLeader {
		t.Fatalf("AwaitLeader returned a non-leader replica: %v", leader.Status().Role)
	}
}

func TestClusterReplicatesCommands(t *testing.T) {
	c, err := NewCluster(3, fastOptions())
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer c.Shutdown()

	leader := c.AwaitLeader(2 * time.Second)
	if leader == nil {
		t.Fatal("no leader elected within timeout")
	}

	const n = 5
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := leader.Apply(ctx, types.EntryCommand, []byte{byte(i)}).Wait(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	if !c.AwaitApplied(n, 2*time.Second) {
		t.Fatal("not every replica applied all commands in time")
	}

	for id, fsm := range c.FSMs {
		applied := fsm.Applied()
		if len(applied) != n {
			t.Fatalf("replica %s applied %d entries, want %d", id, len(applied), n)
		}
		for i, payload := range applied {
			if len(payload) != 1 || payload[0] != byte(i) {
				t.Fatalf("replica %s entry %d = %v, want [%d]", id, i, payload, i)
			}
		}
	}
}

// TestPartitionedLeaderBlocksLinearizableRead exercises spec §4.5's
// requirement that a leader confirm it still holds a majority of
// heartbeats before answering a Linearizable read: a leader cut off
// from the rest of the cluster must not resolve one until either the
// partition heals or a new leader wins on the majority side.
func TestPartitionedLeaderBlocksLinearizableRead(t *testing.T) {
	c, err := NewCluster(3, fastOptions())
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer c.Shutdown()

	leader := c.AwaitLeader(2 * time.Second)
	if leader == nil {
		t.Fatal("no leader elected within timeout")
	}
	leaderID := leader.Status().Leader

	c.Partition(leaderID)
	defer c.Heal(leaderID)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = leader.ReadIndex(ctx)
	if err == nil {
		t.Fatal("expected a Linearizable read on a partitioned leader to fail, got nil error")
	}

	c.Heal(leaderID)

	newLeader := c.AwaitLeader(2 * time.Second)
	if newLeader == nil {
		t.Fatal("no leader re-elected after healing the partition")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if _, err := newLeader.ReadIndex(ctx2); err != nil {
		t.Fatalf("ReadIndex on healed majority-side leader: %v", err)
	}
}

func TestClusterRejectsApplyOnFollower(t *testing.T) {
	c, err := NewCluster(3, fastOptions())
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer c.Shutdown()

	leader := c.AwaitLeader(2 * time.Second)
	if leader == nil {
		t.Fatal("no leader elected within timeout")
	}

	var follower *raft.Replica
	for id, r := range c.Replicas {
		if r != leader {
			follower = r
			_ = id
			break
		}
	}
	if follower == nil {
		t.Fatal("expected at least one follower")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = follower.Apply(ctx, types.EntryCommand, []byte("x")).Wait(ctx)
	if err == nil {
		t.Fatal("expected Apply on a follower to fail")
	}
}
