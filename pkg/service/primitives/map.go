package primitives

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/types"
)

// MapType is the ServiceType name a Map registers under.
const MapType = "map"

// Map operation names.
const (
	MapOpGet    = "get"
	MapOpPut    = "put"
	MapOpRemove = "remove"
	MapOpClear  = "clear"
	MapOpSize   = "size"
)

// mapEntryArgs is the JSON-encoded Command.Args shape for Put/Get/Remove.
type mapEntryArgs struct {
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Map is a replicated string-keyed byte-value map.
type Map struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMap is a service.Factory for MapType.
func NewMap() service.Service { return &Map{entries: make(map[string][]byte)} }

func (m *Map) Apply(_ service.Context, cmd service.Command) ([]byte, []service.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Op {
	case MapOpGet:
		var args mapEntryArgs
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return nil, nil, err
		}
		v, ok := m.entries[args.Key]
		if !ok {
			return nil, nil, nil
		}
		return v, nil, nil
	case MapOpPut:
		var args mapEntryArgs
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return nil, nil, err
		}
		old, existed := m.entries[args.Key]
		m.entries[args.Key] = args.Value
		events := []service.Event{{Name: "put", Payload: cmd.Args}}
		if !existed {
			return nil, events, nil
		}
		return old, events, nil
	case MapOpRemove:
		var args mapEntryArgs
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return nil, nil, err
		}
		old, existed := m.entries[args.Key]
		if !existed {
			return nil, nil, nil
		}
		delete(m.entries, args.Key)
		return old, []service.Event{{Name: "removed", Payload: []byte(args.Key)}}, nil
	case MapOpClear:
		m.entries = make(map[string][]byte)
		return nil, []service.Event{{Name: "cleared"}}, nil
	case MapOpSize:
		return encodeInt64(int64(len(m.entries))), nil, nil
	default:
		return nil, nil, errors.New("map: unknown operation " + cmd.Op)
	}
}

// mapSnapshot is Map's Backup/Restore wire format: keys sorted so the
// serialized bytes are identical across every replica applying the same
// state, matching spec §4.4's determinism requirement.
type mapSnapshot struct {
	Keys   []string `json:"keys"`
	Values [][]byte `json:"values"`
}

func (m *Map) Backup() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.entries[k]
	}
	return json.Marshal(mapSnapshot{Keys: keys, Values: values})
}

func (m *Map) Restore(data []byte) error {
	var snap mapSnapshot
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
	}
	entries := make(map[string][]byte, len(snap.Keys))
	for i, k := range snap.Keys {
		entries[k] = snap.Values[i]
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// CanDelete is always true: a map retains no history beyond current
// key/value state.
func (m *Map) CanDelete(types.Index) bool { return true }
