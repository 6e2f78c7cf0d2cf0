package raft

import (
	"testing"

	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
)

type nopApplier struct{}

func (nopApplier) Apply(types.LogEntry) ([]byte, error) { return nil, nil }
func (nopApplier) Snapshot() ([]byte, error)             { return nil, nil }
func (nopApplier) Restore([]byte) error                  { return nil }
func (nopApplier) CanDelete(types.Index) bool            { return true }

func newTestReplica(t *testing.T, id types.MemberID, config types.Configuration) *Replica {
	t.Helper()
	hub := transport.NewMemoryHub()
	trans := transport.NewMemoryTransport(hub, string(id))
	r, err := New(id, types.PartitionKey{Group: "g", Partition: 0}, DefaultOptions(), storage.NewMemoryLog(), storage.NewMemorySnapshotStore(), trans, nopApplier{}, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r
}

func singleMemberConfig(id types.MemberID) types.Configuration {
	return types.Configuration{Members: []types.ConfigurationMember{{MemberID: id, Address: string(id), Role: types.MemberActive}}}
}

func TestNewReplicaStartsAsFollower(t *testing.T) {
	r := newTestReplica(t, "a", singleMemberConfig("a"))
	if got := r.Status().Role; got != types.RoleFollower {
		t.Fatalf("initial role = %v, want Follower", got)
	}
}

func TestHandleRequestVoteGrantsOnlyOncePerTerm(t *testing.T) {
	r := newTestReplica(t, "a", types.Configuration{Members: []types.ConfigurationMember{
		{MemberID: "a", Address: "a", Role: types.MemberActive},
		{MemberID: "b", Address: "b", Role: types.MemberActive},
		{MemberID: "c", Address: "c", Role: types.MemberActive},
	}})

	resp1 := r.handleRequestVote(RequestVoteRequest{ID: "1", Term: 1, Candidate: "b", LastLogIndex: 0, LastLogTerm: 0})
	if !resp1.VoteGranted {
		t.Fatal("expected first vote request to be granted")
	}

	resp2 := r.handleRequestVote(RequestVoteRequest{ID: "2", Term: 1, Candidate: "c", LastLogIndex: 0, LastLogTerm: 0})
	if resp2.VoteGranted {
		t.Fatal("expected second vote request in the same term to be denied")
	}

	resp3 := r.handleRequestVote(RequestVoteRequest{ID: "3", Term: 2, Candidate: "c", LastLogIndex: 0, LastLogTerm: 0})
	if !resp3.VoteGranted {
		t.Fatal("expected a vote request in a higher term to be granted")
	}
}

func TestHandleRequestVoteRejectsStaleLog(t *testing.T) {
	r := newTestReplica(t, "a", types.Configuration{Members: []types.ConfigurationMember{
		{MemberID: "a", Address: "a", Role: types.MemberActive},
		{MemberID: "b", Address: "b", Role: types.MemberActive},
	}})

	if err := r.log.Append([]types.LogEntry{{Index: 1, Term: 1, Kind: types.EntryCommand}}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	resp := r.handleRequestVote(RequestVoteRequest{ID: "1", Term: 2, Candidate: "b", LastLogIndex: 0, LastLogTerm: 0})
	if resp.VoteGranted {
		t.Fatal("expected vote to be denied for a candidate with an older log")
	}
}

func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	r := newTestReplica(t, "a", singleMemberConfig("a"))
	r.mu.Lock()
	r.currentTerm = 5
	r.mu.Unlock()

	resp := r.handleAppendEntries(AppendEntriesRequest{ID: "1", Term: 1, Leader: "x"})
	if resp.Succeeded {
		t.Fatal("expected stale-term AppendEntries to fail")
	}
	if resp.Term != 5 {
		t.Fatalf("response term = %d, want 5", resp.Term)
	}
}

func TestHandleAppendEntriesAppendsAndCommits(t *testing.T) {
	r := newTestReplica(t, "a", singleMemberConfig("a"))

	resp := r.handleAppendEntries(AppendEntriesRequest{
		ID: "1", Term: 1, Leader: "leader",
		Entries: []types.LogEntry{{Index: 1, Term: 1, Kind: types.EntryCommand, Payload: []byte("x")}},
		Commit:  1,
	})
	if !resp.Succeeded {
		t.Fatal("expected append to succeed")
	}
	if got := r.getCommitIndex(); got != 1 {
		t.Fatalf("commitIndex = %d, want 1", got)
	}
	if got := r.Status().LastApplied; got != 1 {
		t.Fatalf("lastApplied = %d, want 1", got)
	}
}

func TestFindConflictWalksBackToTermBoundary(t *testing.T) {
	r := newTestReplica(t, "a", singleMemberConfig("a"))
	entries := []types.LogEntry{
		{Index: 1, Term: 1, Kind: types.EntryCommand},
		{Index: 2, Term: 1, Kind: types.EntryCommand},
		{Index: 3, Term: 2, Kind: types.EntryCommand},
	}
	if err := r.log.Append(entries); err != nil {
		t.Fatalf("append: %v", err)
	}

	idx, term := r.findConflict(3)
	if idx != 3 || term != 2 {
		t.Fatalf("findConflict(3) = (%d, %d), want (3, 2)", idx, term)
	}

	idx, term = r.findConflict(2)
	if idx != 1 || term != 1 {
		t.Fatalf("findConflict(2) = (%d, %d), want (1, 1)", idx, term)
	}
}
