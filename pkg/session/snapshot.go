package session

import (
	"sort"

	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/types"
)

// wireSessionState is one session's durable state in a snapshot. Fields
// mirror state but drop anything derivable or irrelevant across a
// restore (nothing here is a pointer or a map with nondeterministic
// iteration order once sorted).
type wireSessionState struct {
	ID             uint64          `json:"id"`
	ServiceType    string          `json:"serviceType"`
	ServiceName    string          `json:"serviceName"`
	TimeoutNano    int64           `json:"timeoutNano"`
	LastUpdated    int64           `json:"lastUpdated"`
	Closed         bool            `json:"closed"`
	LastAppliedSeq uint64          `json:"lastAppliedSeq"`
	LastEventIndex uint64          `json:"lastEventIndex"`
	Cache          []wireCacheItem `json:"cache,omitempty"`
	Events         []Event         `json:"events,omitempty"`
}

type wireCacheItem struct {
	Sequence uint64  `json:"sequence"`
	Result   []byte  `json:"result,omitempty"`
	ErrMsg   string  `json:"errMsg,omitempty"`
	Events   []Event `json:"events,omitempty"`
}

// wireSnapshot is a partition's complete session-manager snapshot: every
// session plus every backed-up service instance, assembled by
// Manager.Snapshot and consumed by Manager.Restore.
type wireSnapshot struct {
	Sessions []wireSessionState  `json:"sessions"`
	Services []service.HostEntry `json:"services"`
}

func buildSnapshot(sessions map[types.SessionID]*state, hostEntries []service.HostEntry) wireSnapshot {
	ids := make([]types.SessionID, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]wireSessionState, 0, len(ids))
	for _, id := range ids {
		s := sessions[id]

		seqs := make([]uint64, 0, len(s.cache))
		for seq := range s.cache {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		cache := make([]wireCacheItem, 0, len(seqs))
		for _, seq := range seqs {
			c := s.cache[seq]
			cache = append(cache, wireCacheItem{Sequence: seq, Result: c.result, ErrMsg: c.errMsg, Events: c.events})
		}

		out = append(out, wireSessionState{
			ID:             uint64(s.id),
			ServiceType:    s.serviceType,
			ServiceName:    s.serviceName,
			TimeoutNano:    s.timeoutNano,
			LastUpdated:    s.lastUpdated,
			Closed:         s.closed,
			LastAppliedSeq: s.lastAppliedSeq,
			LastEventIndex: s.lastEventIndex,
			Cache:          cache,
			Events:         s.events,
		})
	}

	return wireSnapshot{Sessions: out, Services: hostEntries}
}

func (snap wireSnapshot) toSessions() (map[types.SessionID]*state, []service.HostEntry) {
	sessions := make(map[types.SessionID]*state, len(snap.Sessions))
	for _, w := range snap.Sessions {
		s := &state{
			id:             types.SessionID(w.ID),
			serviceType:    w.ServiceType,
			serviceName:    w.ServiceName,
			timeoutNano:    w.TimeoutNano,
			lastUpdated:    w.LastUpdated,
			closed:         w.Closed,
			lastAppliedSeq: w.LastAppliedSeq,
			lastEventIndex: w.LastEventIndex,
			cache:          make(map[uint64]cachedResult, len(w.Cache)),
			pending:        make(map[uint64]pendingCommand),
			events:         w.Events,
		}
		for _, c := range w.Cache {
			s.cache[c.Sequence] = cachedResult{result: c.Result, errMsg: c.ErrMsg, events: c.Events}
		}
		sessions[s.id] = s
	}
	return sessions, snap.Services
}
