package session

import (
	"testing"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/service/primitives"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func newTestManager() *Manager {
	reg := service.NewRegistry()
	reg.Register(primitives.CounterType, primitives.NewCounter)
	host := service.NewHost(reg)
	return NewManager(host, testLogger(), types.PartitionKey{Group: "test", Partition: 0})
}

func openTestSession(t *testing.T, m *Manager, index types.Index, now int64) types.SessionID {
	t.Helper()
	entry := types.LogEntry{
		Index: index, Term: 1, Timestamp: now, Kind: types.EntryOpenSession,
		Payload: marshal(OpenSessionRequest{ServiceType: primitives.CounterType, ServiceName: "c1", TimeoutNano: int64(1_000_000_000)}),
	}
	out, err := m.Apply(entry)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	resp, err := unmarshal[OpenSessionResponse](out)
	if err != nil {
		t.Fatalf("decode OpenSessionResponse: %v", err)
	}
	return types.SessionID(resp.SessionID)
}

func incrementEntry(index types.Index, sid types.SessionID, seq uint64, delta int64, now int64) types.LogEntry {
	return types.LogEntry{
		Index: index, Term: 1, Timestamp: now, Kind: types.EntryCommand,
		Payload: marshal(CommandRequest{
			SessionID: uint64(sid), Sequence: seq, Op: primitives.CounterOpIncrement,
			Args: encodeInt64(delta),
		}),
	}
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func TestManagerAppliesCommandsInSequence(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 100)

	out, err := m.Apply(incrementEntry(2, sid, 1, 5, 200))
	if err != nil {
		t.Fatalf("first command: %v", err)
	}
	resp, _ := unmarshal[CommandResponse](out)
	if len(resp.Result) == 0 {
		t.Fatal("expected a result")
	}
}

func TestManagerDedupesRetriedSequence(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 100)

	out1, err := m.Apply(incrementEntry(2, sid, 1, 5, 200))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// Retry with the same sequence lands at a new log index but must
	// return the identical cached result without re-applying.
	out2, err := m.Apply(incrementEntry(3, sid, 1, 5, 210))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("retried sequence returned a different result: %q vs %q", out1, out2)
	}
}

func TestManagerBuffersOutOfOrderAndReplaysOnGapFill(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 100)

	// Sequence 2 arrives before sequence 1: must be buffered, not applied.
	_, err := m.Apply(incrementEntry(2, sid, 2, 5, 150))
	if err == nil {
		t.Fatal("expected out-of-order command to report an error")
	}
	if got := atomixKind(err); got != "Unavailable" {
		t.Fatalf("out-of-order kind = %s, want Unavailable", got)
	}

	// Sequence 1 fills the gap; sequence 2 should replay as part of it.
	out, err := m.Apply(incrementEntry(3, sid, 1, 3, 160))
	if err != nil {
		t.Fatalf("gap-filling command: %v", err)
	}
	_ = out

	s := m.sessions[sid]
	if s.lastAppliedSeq != 2 {
		t.Fatalf("lastAppliedSeq = %d, want 2 (both sequences applied)", s.lastAppliedSeq)
	}
	if len(s.pending) != 0 {
		t.Fatalf("expected no buffered commands left, got %d", len(s.pending))
	}
}

func TestManagerExpiresSessionsByReplicatedTimestamp(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 0)

	// Any applied entry after the timeout elapses triggers expiration,
	// even one unrelated to this session.
	other := openTestSession(t, m, 2, 2_000_000_000)

	if !m.sessions[sid].closed {
		t.Fatal("expected session to have expired")
	}
	if m.sessions[other].closed {
		t.Fatal("freshly opened session should not be expired")
	}

	_, err := m.Apply(incrementEntry(3, sid, 1, 1, 2_100_000_000))
	if atomixKind(err) != "ClosedSession" {
		t.Fatalf("expected ClosedSession after expiry, got %v", err)
	}
}

func TestManagerKeepAliveTrimsCache(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 0)
	if _, err := m.Apply(incrementEntry(2, sid, 1, 1, 10)); err != nil {
		t.Fatalf("command: %v", err)
	}

	entry := types.LogEntry{
		Index: 3, Term: 1, Timestamp: 20, Kind: types.EntryKeepAlive,
		Payload: marshal(KeepAliveRequest{SessionID: uint64(sid), SequenceAck: 1}),
	}
	out, err := m.Apply(entry)
	if err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	resp, _ := unmarshal[KeepAliveResponse](out)
	if !resp.Open {
		t.Fatal("expected session to still be open")
	}
	if _, cached := m.sessions[sid].cache[1]; cached {
		t.Fatal("expected acknowledged sequence to be trimmed from cache")
	}
}

func TestManagerSnapshotRoundTrip(t *testing.T) {
	m := newTestManager()
	sid := openTestSession(t, m, 1, 0)
	if _, err := m.Apply(incrementEntry(2, sid, 1, 7, 10)); err != nil {
		t.Fatalf("command: %v", err)
	}

	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	reg := service.NewRegistry()
	reg.Register(primitives.CounterType, primitives.NewCounter)
	restored := NewManager(service.NewHost(reg), testLogger(), types.PartitionKey{Group: "test", Partition: 0})
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if restored.sessions[sid].lastAppliedSeq != 1 {
		t.Fatalf("restored lastAppliedSeq = %d, want 1", restored.sessions[sid].lastAppliedSeq)
	}

	// A retried sequence after restore must still dedup from the
	// restored cache instead of re-applying against the restored
	// counter state.
	out, err := restored.Apply(incrementEntry(99, sid, 1, 7, 20))
	if err != nil {
		t.Fatalf("post-restore retry: %v", err)
	}
	resp, _ := unmarshal[CommandResponse](out)
	if len(resp.Result) == 0 {
		t.Fatal("expected cached result after restore")
	}
}

func atomixKind(err error) string {
	return atomixerrors.KindOf(err).String()
}
