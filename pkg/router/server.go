package router

import (
	"context"
	"encoding/json"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/session"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

// queryRequest is the wire payload of a TypeQuery RPC: a QueryRequest
// plus the consistency level and (for Sequential) the session's last
// observed commit index — both router-level decisions, not log-entry
// concerns, so they live alongside session.QueryRequest rather than in
// it.
type queryRequest struct {
	session.QueryRequest
	Consistency types.ConsistencyLevel `json:"consistency"`
	LastCommit  uint64                 `json:"lastCommit"`
}

// Server is the client-facing RPC handler co-located with one
// partition's Replica and session.Manager. It holds no state of its
// own: every request either appends through the Replica (commands,
// session lifecycle) or reads directly from the Manager (queries),
// translating results and errors to and from the wire.
type Server struct {
	replica *raft.Replica
	manager *session.Manager
	rpcs    <-chan transport.RPC
	logger  zerolog.Logger

	shutdownCh chan struct{}
}

// NewServer returns a Server driven by rpcs — typically a Demux's
// ClientRPCs() channel, so it shares its node's single network address
// with replica's own raft traffic.
func NewServer(replica *raft.Replica, manager *session.Manager, rpcs <-chan transport.RPC, logger zerolog.Logger) *Server {
	return &Server{replica: replica, manager: manager, rpcs: rpcs, logger: logger, shutdownCh: make(chan struct{})}
}

// Serve processes RPCs until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case rpc, ok := <-s.rpcs:
			if !ok {
				return
			}
			go s.handle(ctx, rpc)
		}
	}
}

// Stop ends Serve's loop without requiring the caller's context to be
// cancelled.
func (s *Server) Stop() { close(s.shutdownCh) }

func (s *Server) handle(ctx context.Context, rpc transport.RPC) {
	switch rpc.Request.Type {
	case transport.TypeOpenSession:
		s.handleAppend(ctx, rpc, types.EntryOpenSession)
	case transport.TypeSubmitCommand:
		s.handleCommand(ctx, rpc)
	case transport.TypeKeepAlive:
		s.handleAppend(ctx, rpc, types.EntryKeepAlive)
	case transport.TypeCloseSession:
		s.handleAppend(ctx, rpc, types.EntryCloseSession)
	case transport.TypeQuery:
		s.handleQuery(ctx, rpc)
	default:
		rpc.Respond(transport.Envelope{}, atomixerrors.New(atomixerrors.KindProtocolMismatch, "unsupported client RPC type"))
	}
}

// handleAppend drives every session-lifecycle and command RPC through
// the replica's log, so every replica's session.Manager sees it in the
// same order (spec §4.3).
func (s *Server) handleAppend(ctx context.Context, rpc transport.RPC, kind types.EntryKind) {
	future := s.replica.Apply(ctx, kind, rpc.Request.Payload)
	result, err := future.Wait(ctx)
	if err != nil {
		rpc.Respond(transport.Envelope{}, err)
		return
	}
	rpc.Respond(transport.Envelope{Type: rpc.Request.Type, RequestID: rpc.Request.RequestID, Payload: result.Output}, nil)
}

// handleCommand is handleAppend specialized for EntryCommand so the
// response can carry the entry's own commit index — the watermark a
// Sequential-consistency client needs for its next Query (spec §4.5
// step 4) — without session.Manager needing to know its own log index.
func (s *Server) handleCommand(ctx context.Context, rpc transport.RPC) {
	future := s.replica.Apply(ctx, types.EntryCommand, rpc.Request.Payload)
	result, err := future.Wait(ctx)
	if err != nil {
		rpc.Respond(transport.Envelope{}, err)
		return
	}

	var resp session.CommandResponse
	if err := json.Unmarshal(result.Output, &resp); err != nil {
		rpc.Respond(transport.Envelope{}, atomixerrors.Wrap(atomixerrors.KindProtocolMismatch, "malformed CommandResponse from session manager", err))
		return
	}
	resp.CommitIndex = uint64(result.Index)
	payload, err := json.Marshal(resp)
	if err != nil {
		rpc.Respond(transport.Envelope{}, atomixerrors.Wrap(atomixerrors.KindProtocolMismatch, "failed to re-encode CommandResponse", err))
		return
	}
	rpc.Respond(transport.Envelope{Type: rpc.Request.Type, RequestID: rpc.Request.RequestID, Payload: payload}, nil)
}

// handleQuery serves a read without appending to the log when
// possible, per spec §4.5's per-consistency-level read paths.
func (s *Server) handleQuery(ctx context.Context, rpc transport.RPC) {
	var req queryRequest
	if err := json.Unmarshal(rpc.Request.Payload, &req); err != nil {
		rpc.Respond(transport.Envelope{}, atomixerrors.Wrap(atomixerrors.KindIllegalState, "malformed query", err))
		return
	}

	switch req.Consistency {
	case types.Linearizable:
		guard, err := s.replica.ReadIndex(ctx)
		if err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
		if err := s.replica.AwaitApplied(ctx, guard.Value()); err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
		if _, err := raft.ResolveTyped(s.replica, guard); err != nil {
			rpc.Respond(transport.Envelope{}, err)
			return
		}
	case types.LinearizableLease:
		// Answered from local state with no round trip (spec §4.5); the
		// replica must still actually be leader right now.
		if s.replica.Status().Role != types.RoleLeader {
			rpc.Respond(transport.Envelope{}, atomixerrors.NotLeader(""))
			return
		}
	case types.Sequential:
		if s.replica.Status().LastApplied < types.Index(req.LastCommit) {
			rpc.Respond(transport.Envelope{}, atomixerrors.New(atomixerrors.KindReadStale, "replica has not caught up to the session's last observed commit"))
			return
		}
	case types.Eventual:
		// No check: any replica, no monotonicity.
	}

	result, err := s.manager.Query(types.SessionID(req.SessionID), req.Op, req.Args)
	if err != nil {
		rpc.Respond(transport.Envelope{}, err)
		return
	}
	rpc.Respond(transport.Envelope{Type: transport.TypeQuery, RequestID: rpc.Request.RequestID, Payload: result}, nil)
}
