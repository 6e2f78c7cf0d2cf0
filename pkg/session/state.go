package session

import "github.com/cuemby/atomix/pkg/types"

// pendingCommand is a command buffered because it arrived out of
// sequence order (spec §4.3: "commands must apply strictly in
// per-session order"). Replayed once the gap closes, using the log
// entry that closes the gap for its apply context rather than whatever
// entry it originally arrived on — every replica applies it at the same
// point in the log, so the result stays deterministic.
type pendingCommand struct {
	op   string
	args []byte
}

// state is one open client session. Created by an EntryOpenSession
// entry, destroyed by EntryCloseSession or expiration.
type state struct {
	id          types.SessionID
	serviceType string
	serviceName string
	timeoutNano int64

	lastUpdated int64 // entry.Timestamp of the most recent keep-alive-equivalent entry
	closed      bool

	lastAppliedSeq uint64
	cache          map[uint64]cachedResult
	pending        map[uint64]pendingCommand

	lastEventIndex uint64
	events         []Event // unacknowledged events, oldest first
}

// cachedResult is a CommandRequest's Apply outcome, kept so a retried
// request with the same sequence returns the identical result instead
// of re-applying (spec §4.3 exactly-once dedup).
type cachedResult struct {
	result []byte
	events []Event
	errMsg string // empty if the original apply succeeded
}

func newState(id types.SessionID, req OpenSessionRequest, now int64) *state {
	return &state{
		id:          id,
		serviceType: req.ServiceType,
		serviceName: req.ServiceName,
		timeoutNano: req.TimeoutNano,
		lastUpdated: now,
		cache:       make(map[uint64]cachedResult),
		pending:     make(map[uint64]pendingCommand),
	}
}

// expired reports whether now exceeds this session's timeout measured
// from its last update, per spec §4.3. Because now is always an
// entry's replicated Timestamp, every replica reaches the same verdict.
func (s *state) expired(now int64) bool {
	return !s.closed && now-s.lastUpdated > s.timeoutNano
}

// trimCache discards cached results for sequences at or below ack, per
// spec §4.3's keep-alive trimming.
func (s *state) trimCache(ack uint64) {
	for seq := range s.cache {
		if seq <= ack {
			delete(s.cache, seq)
		}
	}
}

// trimEvents discards acknowledged events at or below ack's event
// index, keeping the rest for replay on reconnect (spec §4.3).
func (s *state) trimEvents(ack uint64) {
	kept := s.events[:0:0]
	for _, e := range s.events {
		if e.EventIndex > ack {
			kept = append(kept, e)
		}
	}
	s.events = kept
}
