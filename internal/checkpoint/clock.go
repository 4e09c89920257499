package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rzbill/oplogd/pkg/optime"
)

// ErrOutOfOrderCheckpoint is returned when a mark older than the current one
// is published.
var ErrOutOfOrderCheckpoint = errors.New("checkpoint: out of order mark")

// Mark is the state sampled at a checkpoint.
type Mark struct {
	TS       optime.Timestamp `msgpack:"ts" json:"ts"`
	Floor    optime.Timestamp `msgpack:"floor" json:"floor"`
	HasFloor bool             `msgpack:"hasFloor" json:"hasFloor"`
	TakenAt  time.Time        `msgpack:"at" json:"takenAt"`
}

// Clock exposes the last stable checkpoint.
type Clock interface {
	LastStableCheckpoint() optime.Timestamp
	Mark() Mark
}

// Synchronous is implemented by clocks that can checkpoint on demand.
type Synchronous interface {
	CheckpointNow(ctx context.Context) (Mark, error)
}

// Sampler reads a consistent (timestamp, oldest active) pair. The tracker's
// Snapshot satisfies it when bound to the log's newest timestamp.
type Sampler func() (ts, floor optime.Timestamp, hasFloor bool)

// AtomicClock publishes marks without locks. The zero value holds the null mark.
type AtomicClock struct {
	cur atomic.Pointer[Mark]
}

// Advance publishes m. Marks must not move backwards; an equal timestamp
// replaces the floor.
func (c *AtomicClock) Advance(m Mark) error {
	for {
		prev := c.cur.Load()
		if prev != nil && m.TS < prev.TS {
			return fmt.Errorf("%w: %s < %s", ErrOutOfOrderCheckpoint, m.TS, prev.TS)
		}
		next := m
		if c.cur.CompareAndSwap(prev, &next) {
			return nil
		}
	}
}

// Mark returns the current mark.
func (c *AtomicClock) Mark() Mark {
	if m := c.cur.Load(); m != nil {
		return *m
	}
	return Mark{}
}

// LastStableCheckpoint returns the timestamp of the current mark.
func (c *AtomicClock) LastStableCheckpoint() optime.Timestamp {
	return c.Mark().TS
}

func sample(s Sampler) Mark {
	ts, floor, ok := s()
	m := Mark{TS: ts, TakenAt: time.Now().UTC()}
	if ok {
		m.Floor, m.HasFloor = floor, true
	}
	return m
}
