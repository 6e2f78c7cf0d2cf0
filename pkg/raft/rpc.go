package raft

import (
	"encoding/json"

	"github.com/cuemby/atomix/pkg/types"
)

// The wire RPC shapes of spec §6, carried as JSON inside a
// transport.Envelope's Payload field.

// AppendEntriesRequest is the leader's replication/heartbeat RPC.
type AppendEntriesRequest struct {
	ID       string
	Term     types.Term
	Leader   types.MemberID
	PrevIndex types.Index
	PrevTerm  types.Term
	Entries   []types.LogEntry
	Commit    types.Index
}

// AppendEntriesResponse carries the follower's conflict-term optimization
// so the leader can skip decrementing nextIndex one at a time.
type AppendEntriesResponse struct {
	ID               string
	Term             types.Term
	Succeeded        bool
	LastLogIndex     types.Index
	ConflictTerm     types.Term
	ConflictFirstIdx types.Index
}

// RequestVoteRequest is a candidate's solicitation for votes.
type RequestVoteRequest struct {
	ID            string
	Term          types.Term
	Candidate     types.MemberID
	LastLogIndex  types.Index
	LastLogTerm   types.Term
}

// RequestVoteResponse is a peer's vote decision.
type RequestVoteResponse struct {
	ID           string
	Term         types.Term
	VoteGranted  bool
}

// InstallSnapshotRequest streams one chunk of a snapshot (spec §4.2).
type InstallSnapshotRequest struct {
	ID            string
	Term          types.Term
	Leader        types.MemberID
	Index         types.Index
	TermAt        types.Term
	Offset        int64
	Data          []byte
	Done          bool
}

// InstallSnapshotResponse acks one chunk.
type InstallSnapshotResponse struct {
	ID   string
	Term types.Term
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // programmer error: all RPC payload types are plain data
	}
	return data
}

func unmarshal[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
