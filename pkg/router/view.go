package router

import "sync"

// PartitionView is one partition's known member addresses and current
// leader estimate, as tracked by a client. Updated from NotLeader
// reply hints and from successful responses (spec §4.5 step 3: "rotate
// through known members... with the same sequence number").
type PartitionView struct {
	Members []string
	Leader  string // empty if unknown; the client tries Members in order
}

// Table tracks every partition of one partition group a client talks
// to. Safe for concurrent use: a client may have requests in flight
// against several partitions, and a NotLeader hint for one must not
// race an update for another.
type Table struct {
	mu         sync.RWMutex
	partitions []PartitionView
}

// NewTable returns a Table seeded with the given per-partition member
// lists, indexed identically to Route's output.
func NewTable(partitions [][]string) *Table {
	views := make([]PartitionView, len(partitions))
	for i, members := range partitions {
		views[i] = PartitionView{Members: append([]string(nil), members...)}
	}
	return &Table{partitions: views}
}

// Count returns the number of partitions in the table.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// View returns a copy of partition i's current view.
func (t *Table) View(i int) PartitionView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := t.partitions[i]
	return PartitionView{Members: append([]string(nil), v.Members...), Leader: v.Leader}
}

// SetLeader records hint as partition i's current leader estimate. An
// empty hint clears the estimate (NotLeader without a known hint),
// falling back to rotation through Members.
func (t *Table) SetLeader(i int, hint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitions[i].Leader = hint
}

// Candidates returns the addresses to try for partition i, in order:
// the current leader estimate first (if any), then every other known
// member (spec §4.5 step 3's rotation).
func (t *Table) Candidates(i int) []string {
	v := t.View(i)
	if v.Leader == "" {
		return v.Members
	}
	out := make([]string, 0, len(v.Members))
	out = append(out, v.Leader)
	for _, m := range v.Members {
		if m != v.Leader {
			out = append(out, m)
		}
	}
	return out
}
