// Package session implements the per-partition session manager (spec
// §4.3): exactly-once command application, event ordering and replay,
// timeout-driven expiration, and keep-alive bookkeeping. A Manager
// implements raft.Applier directly, so it is driven exclusively from
// its owning replica's apply loop — never from a timer goroutine, per
// spec §5 — and wraps a pkg/service.Host to actually execute commands
// against named primitive instances.
package session

import (
	"sort"
	"strconv"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

// Manager is the Applier a Replica drives. One Manager exists per
// partition; it owns every session opened against that partition and
// the service.Host backing their primitive instances.
type Manager struct {
	host     *service.Host
	sessions map[types.SessionID]*state
	logger   zerolog.Logger

	group, partition string
}

// NewManager returns a Manager dispatching commands through host for
// the partition identified by key (used only to label metrics).
func NewManager(host *service.Host, logger zerolog.Logger, key types.PartitionKey) *Manager {
	return &Manager{
		host:      host,
		sessions:  make(map[types.SessionID]*state),
		logger:    logger,
		group:     key.Group,
		partition: strconv.Itoa(int(key.Partition)),
	}
}

// Apply implements raft.Applier. It expires stale sessions first (using
// entry.Timestamp as the replicated clock, spec §4.3), then dispatches
// by entry kind.
func (m *Manager) Apply(entry types.LogEntry) ([]byte, error) {
	m.expireSessions(entry.Timestamp)

	switch entry.Kind {
	case types.EntryOpenSession:
		return m.applyOpenSession(entry)
	case types.EntryCommand:
		return m.applyCommand(entry)
	case types.EntryQuery:
		return m.applyQuery(entry)
	case types.EntryKeepAlive:
		return m.applyKeepAlive(entry)
	case types.EntryCloseSession:
		return m.applyCloseSession(entry)
	default:
		return nil, nil
	}
}

func (m *Manager) applyOpenSession(entry types.LogEntry) ([]byte, error) {
	req, err := unmarshal[OpenSessionRequest](entry.Payload)
	if err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed OpenSession payload", err)
	}
	if _, err := m.host.Open(req.ServiceType, req.ServiceName); err != nil {
		return nil, err
	}

	id := types.SessionID(entry.Index)
	m.sessions[id] = newState(id, req, entry.Timestamp)
	m.logger.Debug().Uint64("session_id", uint64(id)).Str("service_type", req.ServiceType).
		Str("service_name", req.ServiceName).Msg("session opened")
	metrics.SessionsOpen.WithLabelValues(m.group, m.partition).Set(float64(m.countOpenSessions()))

	return marshal(OpenSessionResponse{SessionID: uint64(id)}), nil
}

func (m *Manager) countOpenSessions() int {
	n := 0
	for _, s := range m.sessions {
		if !s.closed {
			n++
		}
	}
	return n
}

func (m *Manager) applyCommand(entry types.LogEntry) ([]byte, error) {
	req, err := unmarshal[CommandRequest](entry.Payload)
	if err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed Command payload", err)
	}

	s, err := m.lookupOpen(types.SessionID(req.SessionID))
	if err != nil {
		return nil, err
	}

	ctx := service.Context{Index: entry.Index, Timestamp: entry.Timestamp, Session: s.id}
	result, status := m.applySequenced(s, ctx, req.Sequence, req.Op, req.Args)
	return m.respondCommand(result, status)
}

// applySequenced implements spec §4.3's exactly-once rule. It returns
// the outcome for the *requested* sequence specifically — which, for an
// out-of-order arrival, is not yet known and reported as KindUnavailable
// (retryable) rather than applied early.
func (m *Manager) applySequenced(s *state, ctx service.Context, seq uint64, op string, args []byte) (cachedResult, error) {
	switch {
	case seq <= s.lastAppliedSeq:
		if cached, ok := s.cache[seq]; ok {
			metrics.SessionCommandsDeduped.WithLabelValues(m.group, m.partition).Inc()
			return cached, nil
		}
		// Already applied and trimmed (client re-sent something it
		// already acknowledged): nothing useful to return, but not an
		// error either.
		return cachedResult{}, nil

	case seq == s.lastAppliedSeq+1:
		result := m.runAndCache(s, ctx, seq, op, args)
		m.drainPending(s, ctx)
		return result, nil

	default:
		s.pending[seq] = pendingCommand{op: op, args: args}
		return cachedResult{}, atomixerrors.New(atomixerrors.KindUnavailable,
			"command buffered pending earlier sequence for this session")
	}
}

// runAndCache applies op/args to s's service instance, caches the
// result under seq, advances lastAppliedSeq, and records any emitted
// events. Assumes seq == s.lastAppliedSeq+1.
func (m *Manager) runAndCache(s *state, ctx service.Context, seq uint64, op string, args []byte) cachedResult {
	result, events, err := m.host.Apply(s.serviceType, s.serviceName, ctx, service.Command{Op: op, Args: args})

	wire := m.stampEvents(s, ctx.Index, events)
	cached := cachedResult{result: result}
	if err != nil {
		cached.errMsg = err.Error()
	} else {
		cached.events = wire
	}

	s.cache[seq] = cached
	s.lastAppliedSeq = seq
	s.lastUpdated = ctx.Timestamp
	return cached
}

// drainPending replays any buffered commands that are now contiguous
// with lastAppliedSeq, under ctx (the entry that closed the gap), so
// every replica derives the same result at the same point in the log.
func (m *Manager) drainPending(s *state, ctx service.Context) {
	for {
		next := s.lastAppliedSeq + 1
		cmd, ok := s.pending[next]
		if !ok {
			return
		}
		delete(s.pending, next)
		m.runAndCache(s, ctx, next, cmd.op, cmd.args)
	}
}

// stampEvents assigns (eventIndex, previousEventIndex) to newly emitted
// events and appends them to the session's unacknowledged queue (spec
// §4.3's event ordering).
func (m *Manager) stampEvents(s *state, index types.Index, events []service.Event) []Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		wire := Event{
			Name:               e.Name,
			Payload:            e.Payload,
			EventIndex:         uint64(index),
			PreviousEventIndex: s.lastEventIndex,
		}
		s.lastEventIndex = uint64(index)
		s.events = append(s.events, wire)
		out = append(out, wire)
	}
	return out
}

func (m *Manager) respondCommand(cached cachedResult, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if cached.errMsg != "" {
		return nil, atomixerrors.New(atomixerrors.KindCommandFailed, cached.errMsg)
	}
	return marshal(CommandResponse{Result: cached.result, Events: cached.events}), nil
}

func (m *Manager) applyQuery(entry types.LogEntry) ([]byte, error) {
	req, err := unmarshal[QueryRequest](entry.Payload)
	if err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed Query payload", err)
	}
	s, err := m.lookupOpen(types.SessionID(req.SessionID))
	if err != nil {
		return nil, err
	}

	ctx := service.Context{Index: entry.Index, Timestamp: entry.Timestamp, Session: s.id}
	result, _, err := m.host.Apply(s.serviceType, s.serviceName, ctx, service.Command{Op: req.Op, Args: req.Args})
	if err != nil {
		return nil, atomixerrors.New(atomixerrors.KindCommandFailed, err.Error())
	}
	return result, nil
}

// Query executes a read-only operation against an open session's
// service instance directly, without appending a log entry or touching
// any session sequencing/cache state. Called by pkg/router's read path
// for Sequential and Eventual consistency, and for Linearizable once
// it has confirmed (via raft.Replica.ReadIndex/AwaitApplied) that this
// replica's state machine has caught up to a safe commit index (spec
// §4.5). Unlike applyCommand, this never runs on the replica's apply
// loop itself — callers must ensure their own consistency guarantee
// before calling it, since Query has no way to enforce one on its own.
func (m *Manager) Query(sessionID types.SessionID, op string, args []byte) ([]byte, error) {
	s, err := m.lookupOpen(sessionID)
	if err != nil {
		return nil, err
	}
	ctx := service.Context{Timestamp: s.lastUpdated, Session: s.id}
	result, _, err := m.host.Apply(s.serviceType, s.serviceName, ctx, service.Command{Op: op, Args: args})
	if err != nil {
		return nil, atomixerrors.New(atomixerrors.KindCommandFailed, err.Error())
	}
	return result, nil
}

func (m *Manager) applyKeepAlive(entry types.LogEntry) ([]byte, error) {
	req, err := unmarshal[KeepAliveRequest](entry.Payload)
	if err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed KeepAlive payload", err)
	}

	s, ok := m.sessions[types.SessionID(req.SessionID)]
	if !ok || s.closed {
		return marshal(KeepAliveResponse{Open: false}), nil
	}

	s.lastUpdated = entry.Timestamp
	s.trimCache(req.SequenceAck)
	s.trimEvents(req.EventIndexAck)

	return marshal(KeepAliveResponse{Open: true}), nil
}

func (m *Manager) applyCloseSession(entry types.LogEntry) ([]byte, error) {
	req, err := unmarshal[CloseSessionRequest](entry.Payload)
	if err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed CloseSession payload", err)
	}
	if s, ok := m.sessions[types.SessionID(req.SessionID)]; ok {
		s.closed = true
		metrics.SessionsOpen.WithLabelValues(m.group, m.partition).Set(float64(m.countOpenSessions()))
	}
	return nil, nil
}

func (m *Manager) lookupOpen(id types.SessionID) (*state, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, atomixerrors.New(atomixerrors.KindUnknownSession, "no such session")
	}
	if s.closed {
		return nil, atomixerrors.New(atomixerrors.KindClosedSession, "session closed")
	}
	return s, nil
}

// expireSessions closes every session whose timeout has elapsed as of
// now, deterministically across every replica because now is always a
// replicated entry.Timestamp (spec §4.3).
func (m *Manager) expireSessions(now int64) {
	ids := make([]types.SessionID, 0)
	for id, s := range m.sessions {
		if s.expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.sessions[id].closed = true
		m.logger.Debug().Uint64("session_id", uint64(id)).Msg("session expired")
	}
	if len(ids) > 0 {
		metrics.SessionsExpiredTotal.WithLabelValues(m.group, m.partition).Add(float64(len(ids)))
		metrics.SessionsOpen.WithLabelValues(m.group, m.partition).Set(float64(m.countOpenSessions()))
	}
}

// Snapshot implements raft.Applier.
func (m *Manager) Snapshot() ([]byte, error) {
	hostEntries, err := m.host.Backup()
	if err != nil {
		return nil, err
	}
	return marshal(buildSnapshot(m.sessions, hostEntries)), nil
}

// Restore implements raft.Applier.
func (m *Manager) Restore(data []byte) error {
	snap, err := unmarshal[wireSnapshot](data)
	if err != nil {
		return err
	}
	sessions, hostEntries := snap.toSessions()
	if err := m.host.Restore(hostEntries); err != nil {
		return err
	}
	m.sessions = sessions
	return nil
}

// CanDelete implements raft.Applier: compaction past index is safe only
// if every open session's full event history since index has already
// been acknowledged, and every service instance agrees too (spec §4.4).
func (m *Manager) CanDelete(index types.Index) bool {
	for _, s := range m.sessions {
		for _, e := range s.events {
			if e.EventIndex <= uint64(index) {
				return false
			}
		}
	}
	return m.host.CanDelete(index)
}
