package service

import (
	"sort"
	"sync"

	"github.com/cuemby/atomix/pkg/atomixerrors"
	"github.com/cuemby/atomix/pkg/types"
)

// instanceKey identifies one primitive instance within a partition: a
// client picks the name ("my-counter"), the registry resolves the type.
type instanceKey struct {
	serviceType string
	name        string
}

// Host owns every Service instance in one partition, lazily creating
// one the first time a session opens against its (type, name) pair and
// keeping it alive for as long as any session is bound to it: a single
// hardwired store generalized into any number of independently
// addressable named primitives.
type Host struct {
	registry *Registry

	mu        sync.Mutex
	instances map[instanceKey]Service
}

// NewHost returns a Host resolving service types from registry.
func NewHost(registry *Registry) *Host {
	return &Host{registry: registry, instances: make(map[instanceKey]Service)}
}

// Open returns the Service instance for (serviceType, name), creating it
// via the registry if this is the first session to address it.
func (h *Host) Open(serviceType, name string) (Service, error) {
	key := instanceKey{serviceType: serviceType, name: name}

	h.mu.Lock()
	defer h.mu.Unlock()

	if svc, ok := h.instances[key]; ok {
		return svc, nil
	}
	svc, ok := h.registry.New(serviceType)
	if !ok {
		return nil, atomixerrors.New(atomixerrors.KindIllegalState, "unknown service type "+serviceType)
	}
	h.instances[key] = svc
	return svc, nil
}

// Apply dispatches cmd to the already-open instance for (serviceType,
// name). Callers (pkg/session) must Open the instance via a prior
// OpenSession before calling Apply; a session referencing an instance
// Apply can't find indicates a programming error in the caller, not a
// recoverable condition.
func (h *Host) Apply(serviceType, name string, ctx Context, cmd Command) ([]byte, []Event, error) {
	h.mu.Lock()
	svc, ok := h.instances[instanceKey{serviceType: serviceType, name: name}]
	h.mu.Unlock()
	if !ok {
		return nil, nil, atomixerrors.New(atomixerrors.KindIllegalState, "service instance not open: "+serviceType+"/"+name)
	}
	return svc.Apply(ctx, cmd)
}

// CanDelete reports whether every open instance can tolerate compaction
// past index — a service withholding it (spec §4.4) vetoes compaction
// cluster-wide for this partition.
func (h *Host) CanDelete(index types.Index) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, svc := range h.instances {
		if !svc.CanDelete(index) {
			return false
		}
	}
	return true
}

// Backup serializes every open instance's state. Entries are sorted by
// (type, name) so the snapshot is byte-stable across replicas applying
// the same state.
func (h *Host) Backup() ([]HostEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]instanceKey, 0, len(h.instances))
	for k := range h.instances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].serviceType != keys[j].serviceType {
			return keys[i].serviceType < keys[j].serviceType
		}
		return keys[i].name < keys[j].name
	})

	out := make([]HostEntry, 0, len(keys))
	for _, k := range keys {
		state, err := h.instances[k].Backup()
		if err != nil {
			return nil, err
		}
		out = append(out, HostEntry{Type: k.serviceType, Name: k.name, State: state})
	}
	return out, nil
}

// HostEntry is one service instance's backed-up state, identified by
// the (type, name) pair that created it.
type HostEntry struct {
	Type  string
	Name  string
	State []byte
}

// Restore replaces every instance's state from a prior Backup, creating
// instances via the registry as needed.
func (h *Host) Restore(entries []HostEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.instances = make(map[instanceKey]Service, len(entries))
	for _, e := range entries {
		svc, ok := h.registry.New(e.Type)
		if !ok {
			return atomixerrors.New(atomixerrors.KindIllegalState, "unknown service type "+e.Type)
		}
		if err := svc.Restore(e.State); err != nil {
			return err
		}
		h.instances[instanceKey{serviceType: e.Type, name: e.Name}] = svc
	}
	return nil
}
