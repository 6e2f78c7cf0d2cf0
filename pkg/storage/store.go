// Package storage provides the durable log and snapshot abstractions
// that a Raft replica (pkg/raft) is built on, per spec §4.1.
package storage

import (
	"errors"

	"github.com/cuemby/atomix/pkg/types"
)

// ErrOutOfOrder is returned by Log.Append when entries[0].Index is not
// exactly lastIndex+1.
var ErrOutOfOrder = errors.New("storage: append out of order")

// ErrAlreadyCommitted is returned by Log.TruncateAfter when it would
// delete an entry at or below the commit index.
var ErrAlreadyCommitted = errors.New("storage: truncate would remove a committed entry")

// ErrNotFound is returned by Log.Get/Term when the index has no entry
// (either never written or compacted away).
var ErrNotFound = errors.New("storage: entry not found")

// Log is a replica's append-only record of LogEntry values, per spec
// §4.1. Implementations must make Append durable before returning when
// their StorageLevel is Disk or Mapped; the Memory level offers no
// durability and exists for tests.
type Log interface {
	// Append adds entries to the tail of the log. It fails with
	// ErrOutOfOrder if entries[0].Index != LastIndex()+1.
	Append(entries []types.LogEntry) error
	// TruncateAfter removes every entry with Index > index. It fails
	// with ErrAlreadyCommitted if commitIndex > index, since that would
	// discard a committed entry.
	TruncateAfter(index types.Index, commitIndex types.Index) error
	// Get returns the entry at index, or ErrNotFound.
	Get(index types.Index) (types.LogEntry, error)
	// GetRange returns entries with Index in [from, to], inclusive.
	GetRange(from, to types.Index) ([]types.LogEntry, error)
	// Term returns the term of the entry at index, consulting the
	// latest snapshot if index predates the log's first retained entry.
	Term(index types.Index) (types.Term, error)
	// FirstIndex returns the index of the oldest retained entry (the
	// entry immediately after the latest snapshot, or 1 if none).
	FirstIndex() types.Index
	// LastIndex returns the index of the newest entry, or the
	// snapshot's index if the log is empty.
	LastIndex() types.Index
	// Compact atomically persists snap and discards log entries with
	// Index <= snap.Index. Either the snapshot is durable and the old
	// entries gone, or neither happened.
	Compact(snap types.Snapshot) error
	// LoadSnapshot returns the latest snapshot, if any.
	LoadSnapshot() (types.Snapshot, bool, error)
	// CurrentTerm/VotedFor/SetTermAndVote persist the Raft vote state
	// that must survive a restart.
	CurrentTerm() (types.Term, error)
	VotedFor() (types.MemberID, error)
	SetTermAndVote(term types.Term, votedFor types.MemberID) error
	// Close releases underlying resources.
	Close() error
}

// SnapshotWriter streams bytes into a pending snapshot; Close commits
// it as the entry at (index, term).
type SnapshotWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// SnapshotStore persists and retrieves full state-machine snapshots,
// independent of the log, so InstallSnapshot can stream chunks without
// buffering the whole snapshot in memory (spec §4.2).
type SnapshotStore interface {
	// Create opens a new snapshot writer for (index, term, timestamp).
	Create(index types.Index, term types.Term, timestamp int64) (SnapshotWriter, error)
	// Open returns a reader over the latest snapshot's bytes.
	Open() (types.Snapshot, []byte, error)
}
