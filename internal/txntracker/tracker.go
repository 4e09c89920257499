// Package txntracker keeps the set of prepared, unresolved transactions and
// answers the oldest start time among them.
package txntracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/tidwall/btree"
)

// ErrInvariantViolation is returned when a transaction is reported prepared
// twice with different start times.
var ErrInvariantViolation = errors.New("txntracker: invariant violation")

// Entry is a prepared transaction and its start time.
type Entry struct {
	TxnID       string           `json:"txnId"`
	StartOpTime optime.Timestamp `json:"startOpTime"`
}

func less(a, b Entry) bool {
	if a.StartOpTime != b.StartOpTime {
		return a.StartOpTime < b.StartOpTime
	}
	return a.TxnID < b.TxnID
}

// Tracker is safe for concurrent use.
type Tracker struct {
	// gate orders writers against Snapshot; see Hold.
	gate sync.RWMutex

	mu    sync.RWMutex
	byID  map[string]optime.Timestamp
	order *btree.BTreeG[Entry]
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		byID:  make(map[string]optime.Timestamp),
		order: btree.NewBTreeG[Entry](less),
	}
}

// RecordPrepared adds id with its start time. Repeating the call with the same
// start time is a no-op.
func (t *Tracker) RecordPrepared(id string, start optime.Timestamp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[id]; ok {
		if cur != start {
			return fmt.Errorf("%w: %s prepared at %s, reported again at %s", ErrInvariantViolation, id, cur, start)
		}
		return nil
	}
	t.byID[id] = start
	t.order.Set(Entry{TxnID: id, StartOpTime: start})
	return nil
}

// RecordResolved removes id. Unknown ids are ignored.
func (t *Tracker) RecordResolved(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	t.order.Delete(Entry{TxnID: id, StartOpTime: start})
}

// OldestActive returns the minimum start time of all tracked transactions.
func (t *Tracker) OldestActive() (optime.Timestamp, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.order.Min()
	if !ok {
		return optime.Null, false
	}
	return e.StartOpTime, true
}

// Len returns the number of tracked transactions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Prepared returns the tracked transactions ordered by start time.
func (t *Tracker) Prepared() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, t.order.Len())
	t.order.Scan(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Restore replaces the tracked set, typically with the prepared records read
// back from the side-table at startup.
func (t *Tracker) Restore(entries []Entry) error {
	byID := make(map[string]optime.Timestamp, len(entries))
	order := btree.NewBTreeG[Entry](less)
	for _, e := range entries {
		if cur, ok := byID[e.TxnID]; ok && cur != e.StartOpTime {
			return fmt.Errorf("%w: %s restored at %s and %s", ErrInvariantViolation, e.TxnID, cur, e.StartOpTime)
		}
		byID[e.TxnID] = e.StartOpTime
		order.Set(e)
	}
	t.mu.Lock()
	t.byID, t.order = byID, order
	t.mu.Unlock()
	return nil
}

// Hold blocks Snapshot until release is called. Writers hold it from before
// appending an entry until its effect is recorded here, so a snapshot never
// sees a durable prepare without its tracker entry or the reverse.
func (t *Tracker) Hold() (release func()) {
	t.gate.RLock()
	return t.gate.RUnlock
}

// Snapshot calls at while no writer holds the gate and returns its result
// together with the oldest active start time.
func (t *Tracker) Snapshot(at func() optime.Timestamp) (ts, oldest optime.Timestamp, ok bool) {
	t.gate.Lock()
	defer t.gate.Unlock()
	ts = at()
	oldest, ok = t.OldestActive()
	return ts, oldest, ok
}
