package storage

import (
	"testing"

	"github.com/cuemby/atomix/pkg/types"
)

func TestBoltLogAppendAndRestart(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenBoltLog(dir, "group-0")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append([]types.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.SetTermAndVote(3, "member-2"); err != nil {
		t.Fatalf("set term/vote: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBoltLog(dir, "group-0")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.LastIndex() != 2 {
		t.Fatalf("expected last index 2 after reopen, got %d", reopened.LastIndex())
	}
	term, err := reopened.CurrentTerm()
	if err != nil || term != 3 {
		t.Fatalf("expected term 3 after reopen, got %d, %v", term, err)
	}
	voted, err := reopened.VotedFor()
	if err != nil || voted != "member-2" {
		t.Fatalf("expected member-2 after reopen, got %q, %v", voted, err)
	}
}

func TestBoltLogCompact(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenBoltLog(dir, "group-0")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	l.Append([]types.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2}})
	if err := l.Compact(types.Snapshot{Index: 2, Term: 1}); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if _, err := l.Get(1); err != ErrNotFound {
		t.Fatalf("expected compacted entry gone, got %v", err)
	}
	if l.FirstIndex() != 3 {
		t.Fatalf("expected first index 3, got %d", l.FirstIndex())
	}
}

func TestBoltCAStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltCAStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.SaveCA([]byte("root-ca-bytes")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := store.LoadCA()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "root-ca-bytes" {
		t.Fatalf("unexpected CA data: %q", data)
	}
}

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSnapshotStore(dir)
	w, err := s.Create(7, 1, 12345)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write([]byte("snapshot-bytes")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	snap, data, err := s.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.Index != 7 || string(data) != "snapshot-bytes" {
		t.Fatalf("unexpected snapshot: %+v %q", snap, data)
	}
}
