package optime

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp orders oplog entries: [32 bits seconds][32 bits increment].
type Timestamp uint64

// Null is the zero timestamp; no entry carries it.
const Null Timestamp = 0

// New builds a timestamp from its seconds and increment parts.
func New(secs, inc uint32) Timestamp { return Timestamp(uint64(secs)<<32 | uint64(inc)) }

// Secs returns the seconds part.
func (t Timestamp) Secs() uint32 { return uint32(t >> 32) }

// Inc returns the increment part.
func (t Timestamp) Inc() uint32 { return uint32(t) }

// IsNull reports whether t is the null timestamp.
func (t Timestamp) IsNull() bool { return t == Null }

// Next returns the immediately following timestamp.
func (t Timestamp) Next() Timestamp { return t + 1 }

// Compare returns -1, 0, 1 based on ordering.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t < other:
		return -1
	case t > other:
		return 1
	}
	return 0
}

// Bytes returns the 8-byte big-endian representation, which sorts byte-wise.
func (t Timestamp) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b
}

// FromBytes decodes a timestamp produced by Bytes. Short input yields Null.
func FromBytes(b []byte) Timestamp {
	if len(b) < 8 {
		return Null
	}
	return Timestamp(binary.BigEndian.Uint64(b[:8]))
}

func (t Timestamp) String() string {
	return "Timestamp(" + strconv.FormatUint(uint64(t.Secs()), 10) + ", " + strconv.FormatUint(uint64(t.Inc()), 10) + ")"
}

type jsonTimestamp struct {
	T uint32 `json:"t"`
	I uint32 `json:"i"`
}

// MarshalJSON encodes t as {"t": secs, "i": inc}.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonTimestamp{T: t.Secs(), I: t.Inc()})
}

// UnmarshalJSON accepts the object form or a raw integer.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var raw uint64
	if err := json.Unmarshal(b, &raw); err == nil {
		*t = Timestamp(raw)
		return nil
	}
	var j jsonTimestamp
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("optime: invalid timestamp %s", b)
	}
	*t = New(j.T, j.I)
	return nil
}

// Parse reads "secs:inc" or a raw integer.
func Parse(s string) (Timestamp, error) {
	if secs, inc, ok := strings.Cut(s, ":"); ok {
		a, err := strconv.ParseUint(secs, 10, 32)
		if err != nil {
			return Null, fmt.Errorf("optime: invalid seconds in %q", s)
		}
		b, err := strconv.ParseUint(inc, 10, 32)
		if err != nil {
			return Null, fmt.Errorf("optime: invalid increment in %q", s)
		}
		return New(uint32(a), uint32(b)), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Null, fmt.Errorf("optime: invalid timestamp %q", s)
	}
	return Timestamp(v), nil
}

// Min returns the smaller of a and b.
func Min(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Timestamp) Timestamp {
	if a > b {
		return a
	}
	return b
}

// Clock issues strictly increasing timestamps for a single node.
type Clock struct {
	mu       sync.Mutex
	lastSecs uint32
	inc      uint32
	now      func() uint32
}

// NewClock creates a Clock driven by wall time.
func NewClock() *Clock { return &Clock{now: wallSecs} }

// NewClockWithSource creates a Clock driven by the provided seconds source.
func NewClockWithSource(now func() uint32) *Clock { return &Clock{now: now} }

func wallSecs() uint32 { return uint32(time.Now().Unix()) }

// Next returns a new timestamp. If the clock goes backwards, it reuses lastSecs
// and increments. If the increment overflows within a second, it waits for the
// next second.
func (c *Clock) Next() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	secs := c.now()
	if secs < c.lastSecs {
		secs = c.lastSecs
	}

	if secs == c.lastSecs {
		if c.inc == math.MaxUint32 {
			for {
				secs = c.now()
				if secs > c.lastSecs {
					break
				}
				time.Sleep(time.Millisecond)
			}
			c.inc = 1
		} else {
			c.inc++
		}
	} else {
		c.inc = 1
	}

	c.lastSecs = secs
	return New(secs, c.inc)
}

// Observe advances the clock so that subsequent Next calls return timestamps
// greater than ts.
func (c *Clock) Observe(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if New(c.lastSecs, c.inc) < ts {
		c.lastSecs = ts.Secs()
		c.inc = ts.Inc()
	}
}

// Last returns the most recently issued or observed timestamp.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return New(c.lastSecs, c.inc)
}
