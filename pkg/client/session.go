package client

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/session"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
)

// Session is a client's affinity to one named primitive instance on
// one partition: the sequence counter and response ordering spec §4.3
// and §5 require ("commands apply in sequence order; responses arrive
// in sequence order on the client"). A Session is not safe for
// concurrent use by multiple goroutines issuing commands at once —
// sequence numbers must be assigned in the order callers intend them
// to apply — but KeepAlive and Close may be called from a separate
// goroutine (e.g. a keepalive ticker) while Submit is outstanding.
type Session struct {
	client      *Client
	partition   int
	serviceType string
	serviceName string

	mu        sync.Mutex
	sessionID uint64
	sequence  uint64

	lastCommit atomic.Uint64
}

// Open starts a new session against the named primitive instance,
// hashing its name to a partition (spec §4.5 step 1) and sending
// OpenSession to that partition's current leader estimate (step 2).
func (c *Client) Open(ctx context.Context, serviceType, serviceName string, timeout time.Duration) (*Session, error) {
	partition := c.partitionFor(serviceName)
	req := session.OpenSessionRequest{ServiceType: serviceType, ServiceName: serviceName, TimeoutNano: int64(timeout)}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	env, err := c.rotate(ctx, partition, transport.Envelope{Type: transport.TypeOpenSession, RequestID: newRequestID(), Payload: payload})
	if err != nil {
		return nil, err
	}
	var resp session.OpenSessionResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return nil, atomixerrors.Wrap(atomixerrors.KindProtocolMismatch, "malformed OpenSessionResponse", err)
	}

	return &Session{
		client:      c,
		partition:   partition,
		serviceType: serviceType,
		serviceName: serviceName,
		sessionID:   resp.SessionID,
	}, nil
}

// ID is the session's server-assigned identifier.
func (s *Session) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Submit sends a command under the next sequence number, retrying with
// the *same* sequence on a retryable error (spec §4.5 step 3), so a
// retried send is deduplicated by the session's response cache rather
// than double-applied. Returns the command's result and any events the
// service produced.
func (s *Session) Submit(ctx context.Context, op string, args []byte) ([]byte, []session.Event, error) {
	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	sessionID := s.sessionID
	s.mu.Unlock()

	req := session.CommandRequest{SessionID: sessionID, Sequence: seq, Op: op, Args: args}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	env, err := s.client.rotate(ctx, s.partition, transport.Envelope{Type: transport.TypeSubmitCommand, RequestID: newRequestID(), Payload: payload})
	if err != nil {
		return nil, nil, err
	}
	var resp session.CommandResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return nil, nil, atomixerrors.Wrap(atomixerrors.KindProtocolMismatch, "malformed CommandResponse", err)
	}
	if resp.CommitIndex > s.lastCommit.Load() {
		s.lastCommit.Store(resp.CommitIndex)
	}
	return resp.Result, resp.Events, nil
}

// Query reads op with the given consistency level (spec §4.5 step 4).
// Sequential reads carry the session's highest observed commit index
// (updated from every Submit response's CommitIndex) so the serving
// replica can enforce read-your-writes monotonicity before answering.
func (s *Session) Query(ctx context.Context, op string, args []byte, consistency types.ConsistencyLevel) ([]byte, error) {
	req := routerQueryRequest{
		QueryRequest: session.QueryRequest{SessionID: s.ID(), Op: op, Args: args},
		Consistency:  consistency,
		LastCommit:   s.lastCommit.Load(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	env, err := s.client.rotate(ctx, s.partition, transport.Envelope{Type: transport.TypeQuery, RequestID: newRequestID(), Payload: payload})
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// routerQueryRequest mirrors router.queryRequest's wire shape (an
// unexported type in pkg/router, so the client encodes the same JSON
// fields independently rather than importing router's internals).
type routerQueryRequest struct {
	session.QueryRequest
	Consistency types.ConsistencyLevel `json:"consistency"`
	LastCommit  uint64                 `json:"lastCommit"`
}

// KeepAlive refreshes the session's expiration deadline and
// acknowledges every response/event the client has consumed so far,
// letting the server trim its cache (spec §4.3).
func (s *Session) KeepAlive(ctx context.Context, eventIndexAck uint64) error {
	s.mu.Lock()
	req := session.KeepAliveRequest{SessionID: s.sessionID, SequenceAck: s.sequence, EventIndexAck: eventIndexAck}
	s.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	env, err := s.client.rotate(ctx, s.partition, transport.Envelope{Type: transport.TypeKeepAlive, RequestID: newRequestID(), Payload: payload})
	if err != nil {
		return err
	}
	var resp session.KeepAliveResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return atomixerrors.Wrap(atomixerrors.KindProtocolMismatch, "malformed KeepAliveResponse", err)
	}
	if !resp.Open {
		return atomixerrors.New(atomixerrors.KindUnknownSession, "session no longer open")
	}
	return nil
}

// Close releases the session. Per spec §7, a primitive built atop a
// session (lock, leadership) must treat ClosedSession/UnknownSession on
// a subsequent call as a fate event, not a retryable failure.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	req := session.CloseSessionRequest{SessionID: s.sessionID}
	s.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = s.client.rotate(ctx, s.partition, transport.Envelope{Type: transport.TypeCloseSession, RequestID: newRequestID(), Payload: payload})
	return err
}

var requestSeq atomic.Uint64

// newRequestID generates a per-process-unique correlation ID for the
// messaging plane's request/response matching (spec §4.6); it is not
// the session's own Sequence, which governs dedup and ordering.
func newRequestID() string {
	n := requestSeq.Add(1)
	return "cli-" + strconv.FormatUint(n, 10)
}
