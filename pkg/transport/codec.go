package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// envelopeCodec is a hand-registered grpc encoding.Codec named
// "atomix-envelope". It lets grpctransport carry our own Envelope
// struct as the wire message instead of requiring a protoc-generated
// message type — spec §4.6's "pluggable wire transport... without
// committing to a single generated schema the core doesn't own".
// JSON is used rather than gob so the wire format stays debuggable and
// stable across Go versions, matching the stability the router's hash
// (§4.5) is also held to.
type envelopeCodec struct{}

func (envelopeCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (envelopeCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (envelopeCodec) Name() string { return "atomix-envelope" }

func init() {
	encoding.RegisterCodec(envelopeCodec{})
}
