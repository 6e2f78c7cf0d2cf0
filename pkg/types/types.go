// Package types holds the shared data model for the Atomix core: the
// vocabulary every other package (raft, session, storage, service,
// router, transport) builds on. Keeping these shapes in one package
// avoids import cycles between the components that all need to talk
// about, say, a LogEntry or a SessionID.
package types

import "fmt"

// Index identifies a position in a partition's replicated log. Indices
// are strictly monotonic from 1; 0 means "no entry".
type Index uint64

// Term identifies a Raft election epoch. Terms are non-decreasing along
// a replica's lifetime.
type Term uint64

// SessionID uniquely identifies a client session cluster-wide.
type SessionID uint64

// MemberID identifies a cluster member (a physical or logical node that
// can host one or more partition replicas).
type MemberID string

// EntryKind enumerates the kinds of entry that can appear in a
// partition's log.
type EntryKind int

const (
	// EntryUnknown is the zero value and never appears in a valid log.
	EntryUnknown EntryKind = iota
	// EntryInitialize is the no-op every new leader appends at the start
	// of its term (figure-8 safety, spec §4.2).
	EntryInitialize
	// EntryConfiguration carries a membership or role change.
	EntryConfiguration
	// EntryOpenSession creates a new session.
	EntryOpenSession
	// EntryKeepAlive refreshes a session and acknowledges commands/events.
	EntryKeepAlive
	// EntryCloseSession destroys a session.
	EntryCloseSession
	// EntryCommand is a mutating operation bound to a session.
	EntryCommand
	// EntryQuery is a non-mutating operation that only flows through the
	// log when consistency requires it (spec §4.2).
	EntryQuery
)

func (k EntryKind) String() string {
	switch k {
	case EntryInitialize:
		return "Initialize"
	case EntryConfiguration:
		return "Configuration"
	case EntryOpenSession:
		return "OpenSession"
	case EntryKeepAlive:
		return "KeepAlive"
	case EntryCloseSession:
		return "CloseSession"
	case EntryCommand:
		return "Command"
	case EntryQuery:
		return "Query"
	default:
		return "Unknown"
	}
}

// LogEntry is a single, durable entry in a partition's replicated log.
// Invariants (enforced by pkg/raft and pkg/storage): indices strictly
// monotonic from 1 with no gaps within a contiguous segment; terms
// non-decreasing along the log; once committed on a majority, the entry
// at (Index, Term) is immutable on every replica forever.
type LogEntry struct {
	Index     Index
	Term      Term
	Timestamp int64 // unix nanos, assigned by the leader at append time
	Kind      EntryKind
	Payload   []byte
}

// Snapshot represents materialized state-machine state as of Index,
// taken at Term and Timestamp. At most one snapshot is active per
// partition at a time.
type Snapshot struct {
	Index     Index
	Term      Term
	Timestamp int64
	Bytes     []byte
}

// Role is the Raft role of a replica.
type Role int

const (
	RoleInactive Role = iota
	RolePassive
	RoleReserve
	RoleFollower
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RolePassive:
		return "Passive"
	case RoleReserve:
		return "Reserve"
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Inactive"
	}
}

// MemberRole annotates a member of a partition's configuration with the
// role it plays: Active members vote, Passive members replicate without
// voting, Reserve members do neither until promoted.
type MemberRole int

const (
	MemberActive MemberRole = iota
	MemberPassive
	MemberReserve
)

func (m MemberRole) String() string {
	switch m {
	case MemberPassive:
		return "Passive"
	case MemberReserve:
		return "Reserve"
	default:
		return "Active"
	}
}

// ConfigurationMember is one voter/passive/reserve entry in a partition's
// configuration.
type ConfigurationMember struct {
	MemberID MemberID
	Address  string
	Role     MemberRole
}

// Configuration is the typed set of members a partition replica knows
// about, as of the most recently received (not necessarily committed)
// ConfigurationEntry. A new configuration entry takes effect on receipt,
// per spec §4.2, to maintain safety across concurrent membership
// changes.
type Configuration struct {
	Index   Index
	Members []ConfigurationMember
}

// Voters returns the members with MemberActive role, the set that counts
// toward majority quorum.
func (c Configuration) Voters() []ConfigurationMember {
	out := make([]ConfigurationMember, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Role == MemberActive {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether id is present in the configuration in any role.
func (c Configuration) Contains(id MemberID) bool {
	for _, m := range c.Members {
		if m.MemberID == id {
			return true
		}
	}
	return false
}

// PartitionID identifies a partition within a PartitionGroup.
type PartitionID int

// PartitionKey identifies a logical partition (groupName, partitionId).
type PartitionKey struct {
	Group     string
	Partition PartitionID
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Group, k.Partition)
}

// StorageLevel selects the durability guarantee Log & Storage provide
// (spec §4.1).
type StorageLevel int

const (
	// StorageMemory offers no durability; used for test clusters.
	StorageMemory StorageLevel = iota
	// StorageDisk durably fsyncs every append.
	StorageDisk
	// StorageMapped uses a memory-mapped durable backend.
	StorageMapped
)

func (s StorageLevel) String() string {
	switch s {
	case StorageDisk:
		return "disk"
	case StorageMapped:
		return "mapped"
	default:
		return "memory"
	}
}

// ConsistencyLevel selects the read path a query takes (spec §4.5).
type ConsistencyLevel int

const (
	// Linearizable reads round-trip through the leader and its lease.
	Linearizable ConsistencyLevel = iota
	// LinearizableLease answers from local leader state while the lease
	// is valid, with no round-trip.
	LinearizableLease
	// Sequential reads may hit any replica but must be monotonic in the
	// commit index observed by the requesting session.
	Sequential
	// Eventual reads may hit any replica with no monotonicity guarantee.
	Eventual
)

func (c ConsistencyLevel) String() string {
	switch c {
	case LinearizableLease:
		return "linearizable-lease"
	case Sequential:
		return "sequential"
	case Eventual:
		return "eventual"
	default:
		return "linearizable"
	}
}
