package storage

import (
	"testing"

	"github.com/cuemby/atomix/pkg/types"
)

func TestMemoryLogAppendAndGet(t *testing.T) {
	l := NewMemoryLog()
	entries := []types.LogEntry{
		{Index: 1, Term: 1, Kind: types.EntryCommand},
		{Index: 2, Term: 1, Kind: types.EntryCommand},
	}
	if err := l.Append(entries); err != nil {
		t.Fatalf("append: %v", err)
	}
	if l.LastIndex() != 2 {
		t.Fatalf("expected last index 2, got %d", l.LastIndex())
	}
	got, err := l.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Index != 1 {
		t.Fatalf("expected index 1, got %d", got.Index)
	}
}

func TestMemoryLogOutOfOrder(t *testing.T) {
	l := NewMemoryLog()
	err := l.Append([]types.LogEntry{{Index: 2, Term: 1}})
	if err != ErrOutOfOrder {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestMemoryLogTruncateAfterRejectsCommitted(t *testing.T) {
	l := NewMemoryLog()
	l.Append([]types.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 1}})
	if err := l.TruncateAfter(1, 2); err != ErrAlreadyCommitted {
		t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
	}
	if err := l.TruncateAfter(1, 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if l.LastIndex() != 1 {
		t.Fatalf("expected last index 1 after truncate, got %d", l.LastIndex())
	}
}

func TestMemoryLogCompactDropsEntries(t *testing.T) {
	l := NewMemoryLog()
	l.Append([]types.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2}})
	if err := l.Compact(types.Snapshot{Index: 2, Term: 1}); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if l.FirstIndex() != 3 {
		t.Fatalf("expected first index 3 after compact, got %d", l.FirstIndex())
	}
	if _, err := l.Get(1); err != ErrNotFound {
		t.Fatalf("expected compacted entry to be gone, got %v", err)
	}
	term, err := l.Term(2)
	if err != nil || term != 1 {
		t.Fatalf("expected snapshot term 1 at index 2, got %d, %v", term, err)
	}
}

func TestMemoryLogTermAndVotePersist(t *testing.T) {
	l := NewMemoryLog()
	if err := l.SetTermAndVote(5, "member-1"); err != nil {
		t.Fatalf("set term/vote: %v", err)
	}
	term, err := l.CurrentTerm()
	if err != nil || term != 5 {
		t.Fatalf("expected term 5, got %d, %v", term, err)
	}
	voted, err := l.VotedFor()
	if err != nil || voted != "member-1" {
		t.Fatalf("expected member-1, got %q, %v", voted, err)
	}
}

func TestMemorySnapshotStoreRoundTrip(t *testing.T) {
	s := NewMemorySnapshotStore()
	w, err := s.Create(10, 2, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	snap, data, err := s.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.Index != 10 || string(data) != "hello" {
		t.Fatalf("unexpected snapshot: %+v %q", snap, data)
	}
}
