// Package service hosts the pluggable primitive state machines that sit
// behind a session (spec §4.4). A Service is loaded by name from a
// Registry and driven exclusively through Init/Apply/Backup/Restore,
// generalized from one hardwired store into any number of named,
// independently registered primitive types.
package service

import (
	"github.com/cuemby/atomix/pkg/types"
)

// Context is the thread-local-equivalent state a Service sees while
// handling one Apply call. Services must derive all non-determinism
// (time, randomness, iteration order over anything not already sorted)
// from this context rather than reading it directly, so every replica
// that applies the same entry produces the same result (spec §4.4).
type Context struct {
	Index     types.Index
	Timestamp int64
	Role      types.Role
	Session   types.SessionID
}

// Command is one operation dispatched to a Service: an opaque operation
// name plus its argument bytes, scoped to the operation set a single
// Service understands rather than a cluster-wide switch statement.
type Command struct {
	Op   string
	Args []byte
}

// Event is emitted by a Service during Apply to notify the owning
// session's client of something it should observe (spec §4.3's event
// ordering). previousEventIndex is threaded by the session manager, not
// the service — a service only supplies the payload and a name.
type Event struct {
	Name    string
	Payload []byte
}

// Service is one named instance of a primitive type. The host
// constructs one per (service type, name) the first time that pair is
// addressed and shares it with every session that opens the same pair.
type Service interface {
	// Apply executes cmd against the service's state and returns its
	// result bytes (cached by the session manager, keyed by sequence)
	// plus any events to deliver to the owning session's client.
	Apply(ctx Context, cmd Command) (result []byte, events []Event, err error)
	// Backup serializes the service's complete state.
	Backup() ([]byte, error)
	// Restore replaces the service's state from previously backed-up
	// bytes.
	Restore(data []byte) error
	// CanDelete reports whether log entries at or before index may be
	// compacted away; returning false blocks log compaction past it
	// (spec §4.4).
	CanDelete(index types.Index) bool
}

// Factory constructs a fresh, zero-state Service instance of one type.
type Factory func() Service

// Registry maps a ServiceType name to the factory that constructs it:
// instead of one FSM hardcoding every operation in a switch statement,
// each primitive type registers itself and the host dispatches by name.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a Factory under serviceType. Panics on a duplicate
// registration — that is a startup-time programming error, not a
// runtime condition to recover from.
func (r *Registry) Register(serviceType string, f Factory) {
	if _, exists := r.factories[serviceType]; exists {
		panic("service: duplicate registration for type " + serviceType)
	}
	r.factories[serviceType] = f
}

// New constructs a fresh Service of serviceType, or reports false if no
// factory is registered under that name.
func (r *Registry) New(serviceType string) (Service, bool) {
	f, ok := r.factories[serviceType]
	if !ok {
		return nil, false
	}
	return f(), true
}
