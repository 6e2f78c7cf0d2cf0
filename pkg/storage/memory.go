package storage

import (
	"sync"

	"github.com/cuemby/atomix/pkg/types"
)

// MemoryLog is an in-process Log with no durability, used by tests and
// the seed-scenario harness (storage.level = "memory").
type MemoryLog struct {
	mu       sync.RWMutex
	entries  []types.LogEntry // entries[0] is FirstIndex()
	snapshot types.Snapshot
	hasSnap  bool
	term     types.Term
	votedFor types.MemberID
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) firstIndexLocked() types.Index {
	if len(l.entries) > 0 {
		return l.entries[0].Index
	}
	return l.snapshot.Index + 1
}

func (l *MemoryLog) lastIndexLocked() types.Index {
	if len(l.entries) > 0 {
		return l.entries[len(l.entries)-1].Index
	}
	return l.snapshot.Index
}

func (l *MemoryLog) Append(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entries[0].Index != l.lastIndexLocked()+1 {
		return ErrOutOfOrder
	}
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *MemoryLog) TruncateAfter(index types.Index, commitIndex types.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if commitIndex > index {
		return ErrAlreadyCommitted
	}
	first := l.firstIndexLocked()
	if index < first-1 {
		index = first - 1
	}
	keep := int(index - first + 1)
	if keep < 0 {
		keep = 0
	}
	if keep > len(l.entries) {
		return nil
	}
	l.entries = l.entries[:keep]
	return nil
}

func (l *MemoryLog) Get(index types.Index) (types.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	first := l.firstIndexLocked()
	if index < first || index > l.lastIndexLocked() {
		return types.LogEntry{}, ErrNotFound
	}
	return l.entries[index-first], nil
}

func (l *MemoryLog) GetRange(from, to types.Index) ([]types.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	first := l.firstIndexLocked()
	last := l.lastIndexLocked()
	if from < first {
		from = first
	}
	if to > last {
		to = last
	}
	if from > to {
		return nil, nil
	}
	out := make([]types.LogEntry, to-from+1)
	copy(out, l.entries[from-first:to-first+1])
	return out, nil
}

func (l *MemoryLog) Term(index types.Index) (types.Term, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.hasSnap && index == l.snapshot.Index {
		return l.snapshot.Term, nil
	}
	first := l.firstIndexLocked()
	if index < first || index > l.lastIndexLocked() {
		return 0, ErrNotFound
	}
	return l.entries[index-first].Term, nil
}

func (l *MemoryLog) FirstIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstIndexLocked()
}

func (l *MemoryLog) LastIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndexLocked()
}

func (l *MemoryLog) Compact(snap types.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = snap
	l.hasSnap = true
	first := l.firstIndexLocked()
	if snap.Index >= first {
		drop := int(snap.Index - first + 1)
		if drop > len(l.entries) {
			drop = len(l.entries)
		}
		l.entries = l.entries[drop:]
	}
	return nil
}

func (l *MemoryLog) LoadSnapshot() (types.Snapshot, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot, l.hasSnap, nil
}

func (l *MemoryLog) CurrentTerm() (types.Term, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.term, nil
}

func (l *MemoryLog) VotedFor() (types.MemberID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.votedFor, nil
}

func (l *MemoryLog) SetTermAndVote(term types.Term, votedFor types.MemberID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.term = term
	l.votedFor = votedFor
	return nil
}

func (l *MemoryLog) Close() error { return nil }

// memorySnapshotStore pairs with MemoryLog to satisfy SnapshotStore in
// tests that exercise chunked InstallSnapshot without touching disk.
type memorySnapshotStore struct {
	mu   sync.Mutex
	snap types.Snapshot
	data []byte
}

// NewMemorySnapshotStore creates a SnapshotStore backed by a plain byte
// buffer.
func NewMemorySnapshotStore() SnapshotStore {
	return &memorySnapshotStore{}
}

type memorySnapshotWriter struct {
	store     *memorySnapshotStore
	index     types.Index
	term      types.Term
	timestamp int64
	buf       []byte
}

func (w *memorySnapshotWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memorySnapshotWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.snap = types.Snapshot{Index: w.index, Term: w.term, Timestamp: w.timestamp, Bytes: nil}
	w.store.data = w.buf
	return nil
}

func (s *memorySnapshotStore) Create(index types.Index, term types.Term, timestamp int64) (SnapshotWriter, error) {
	return &memorySnapshotWriter{store: s, index: index, term: term, timestamp: timestamp}, nil
}

func (s *memorySnapshotStore) Open() (types.Snapshot, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return types.Snapshot{}, nil, ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return s.snap, out, nil
}
