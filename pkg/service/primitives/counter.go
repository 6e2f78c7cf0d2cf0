// Package primitives provides the built-in Service implementations
// registered by default: a distributed counter and a distributed map.
// Both are deliberately simple — they exist to exercise pkg/service's
// Host/Registry plumbing end to end.
package primitives

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cuemby/atomix/pkg/service"
	"github.com/cuemby/atomix/pkg/types"
)

// CounterType is the ServiceType name a counter registers under.
const CounterType = "counter"

// Counter operation names.
const (
	CounterOpGet       = "get"
	CounterOpSet       = "set"
	CounterOpIncrement = "increment"
	CounterOpDecrement = "decrement"
	CounterOpCAS       = "compare-and-set"
)

// Counter is a replicated int64 counter.
type Counter struct {
	mu    sync.Mutex
	value int64
}

// NewCounter is a service.Factory for CounterType.
func NewCounter() service.Service { return &Counter{} }

func (c *Counter) Apply(_ service.Context, cmd service.Command) ([]byte, []service.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Op {
	case CounterOpGet:
		return encodeInt64(c.value), nil, nil
	case CounterOpSet:
		want, err := decodeInt64(cmd.Args)
		if err != nil {
			return nil, nil, err
		}
		old := c.value
		c.value = want
		if old != want {
			return encodeInt64(old), []service.Event{{Name: "changed", Payload: encodeInt64(want)}}, nil
		}
		return encodeInt64(old), nil, nil
	case CounterOpIncrement:
		delta, err := decodeInt64(cmd.Args)
		if err != nil {
			return nil, nil, err
		}
		c.value += delta
		return encodeInt64(c.value), []service.Event{{Name: "changed", Payload: encodeInt64(c.value)}}, nil
	case CounterOpDecrement:
		delta, err := decodeInt64(cmd.Args)
		if err != nil {
			return nil, nil, err
		}
		c.value -= delta
		return encodeInt64(c.value), []service.Event{{Name: "changed", Payload: encodeInt64(c.value)}}, nil
	case CounterOpCAS:
		if len(cmd.Args) != 16 {
			return nil, nil, errors.New("counter: compare-and-set requires 16 argument bytes")
		}
		expect, _ := decodeInt64(cmd.Args[:8])
		update, _ := decodeInt64(cmd.Args[8:])
		if c.value != expect {
			return encodeInt64(0), nil, nil
		}
		c.value = update
		return encodeInt64(1), []service.Event{{Name: "changed", Payload: encodeInt64(update)}}, nil
	default:
		return nil, nil, errors.New("counter: unknown operation " + cmd.Op)
	}
}

func (c *Counter) Backup() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodeInt64(c.value), nil
}

func (c *Counter) Restore(data []byte) error {
	v, err := decodeInt64(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return nil
}

// CanDelete is always true: a counter retains no history beyond its
// current value, so it never needs events from before any index.
func (c *Counter) CanDelete(types.Index) bool { return true }

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, errors.New("counter: expected 8 argument bytes")
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
