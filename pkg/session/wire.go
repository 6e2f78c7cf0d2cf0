package session

import "encoding/json"

// The request/response shapes below are the JSON payloads carried inside
// a types.LogEntry.Payload for each session-related EntryKind: every
// command that crosses the log boundary is JSON-encoded.

// OpenSessionRequest is the payload of an EntryOpenSession entry.
type OpenSessionRequest struct {
	ServiceType string `json:"serviceType"`
	ServiceName string `json:"serviceName"`
	TimeoutNano int64  `json:"timeoutNano"`
}

// OpenSessionResponse is an OpenSessionRequest's Apply result.
type OpenSessionResponse struct {
	SessionID uint64 `json:"sessionId"`
}

// CommandRequest is the payload of an EntryCommand entry.
type CommandRequest struct {
	SessionID uint64 `json:"sessionId"`
	Sequence  uint64 `json:"sequence"`
	Op        string `json:"op"`
	Args      []byte `json:"args,omitempty"`
}

// CommandResponse is a CommandRequest's Apply result, including any
// events the command produced so the caller can forward them to the
// client alongside the command's own result. CommitIndex is left at
// its zero value by Manager.Apply — the session layer has no log index
// of its own to report — and is stamped in afterward by whichever
// layer does know it (pkg/router, from the entry's ApplyResult.Index),
// so a Sequential-consistency client can track its own high-water mark
// (spec §4.5 step 4).
type CommandResponse struct {
	Result      []byte  `json:"result,omitempty"`
	Events      []Event `json:"events,omitempty"`
	CommitIndex uint64  `json:"commitIndex,omitempty"`
}

// QueryRequest is the payload of an EntryQuery entry (used only when a
// query is routed through the log rather than the separate read path;
// spec §4.2).
type QueryRequest struct {
	SessionID uint64 `json:"sessionId"`
	Op        string `json:"op"`
	Args      []byte `json:"args,omitempty"`
}

// KeepAliveRequest is the payload of an EntryKeepAlive entry.
type KeepAliveRequest struct {
	SessionID     uint64 `json:"sessionId"`
	SequenceAck   uint64 `json:"sequenceAck"`
	EventIndexAck uint64 `json:"eventIndexAck"`
}

// KeepAliveResponse reports whether the session was still open to be
// kept alive.
type KeepAliveResponse struct {
	Open bool `json:"open"`
}

// CloseSessionRequest is the payload of an EntryCloseSession entry.
type CloseSessionRequest struct {
	SessionID uint64 `json:"sessionId"`
}

// Event is a single session event as delivered over the wire: the
// service-chosen name and payload, plus the ordering metadata the
// session manager stamps on (spec §4.3).
type Event struct {
	Name               string `json:"name"`
	Payload            []byte `json:"payload,omitempty"`
	EventIndex         uint64 `json:"eventIndex"`
	PreviousEventIndex uint64 `json:"previousEventIndex"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("session: marshal of internal type failed: " + err.Error())
	}
	return b
}

func unmarshal[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
