package txntable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrStartOpTimeChanged is returned when a write would change the start time
// of an existing record.
var ErrStartOpTimeChanged = errors.New("transaction start optime changed")

// State is the lifecycle state of a transaction.
type State string

const (
	StateRunning   State = "running"
	StatePrepared  State = "prepared"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// Resolved reports whether the state is terminal.
func (s State) Resolved() bool { return s == StateCommitted || s == StateAborted }

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateRunning, StatePrepared, StateCommitted, StateAborted:
		return st, nil
	}
	return "", fmt.Errorf("unknown transaction state %q", s)
}

// Record is the persisted side-table row of a transaction.
type Record struct {
	TxnID       string           `msgpack:"id" json:"txnId"`
	StartOpTime optime.Timestamp `msgpack:"start" json:"startOpTime"`
	State       State            `msgpack:"state" json:"state"`
	PrepareTS   optime.Timestamp `msgpack:"prep,omitempty" json:"prepareTs,omitempty"`
	LastWriteTS optime.Timestamp `msgpack:"last,omitempty" json:"lastWriteTs,omitempty"`
	UpdatedAt   time.Time        `msgpack:"at" json:"updatedAt"`
}

// Table is the transaction side-table of one oplog namespace.
type Table struct {
	db *pebblestore.DB
	ns string
}

// Open returns the side-table for ns.
func Open(db *pebblestore.DB, ns string) *Table {
	return &Table{db: db, ns: ns}
}

func (t *Table) recordKey(id string) []byte {
	return []byte("txn/" + t.ns + "/r/" + id)
}

func (t *Table) stateKey(s State, id string) []byte {
	return []byte("txn/" + t.ns + "/s/" + string(s) + "/" + id)
}

func (t *Table) statePrefix(s State) []byte {
	return []byte("txn/" + t.ns + "/s/" + string(s) + "/")
}

// Get loads the record for id.
func (t *Table) Get(id string) (Record, bool, error) {
	val, err := t.db.Get(t.recordKey(id))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode txn record %s: %w", id, err)
	}
	return rec, true, nil
}

// Stage writes rec into b, replacing the previous state index entry. The
// stored start time of an existing record must not change.
func (t *Table) Stage(b *pebble.Batch, rec Record) error {
	prev, ok, err := t.Get(rec.TxnID)
	if err != nil {
		return err
	}
	if ok {
		if prev.StartOpTime != rec.StartOpTime {
			return fmt.Errorf("%w: %s has %s, got %s", ErrStartOpTimeChanged, rec.TxnID, prev.StartOpTime, rec.StartOpTime)
		}
		if prev.State != rec.State {
			if err := b.Delete(t.stateKey(prev.State, rec.TxnID), nil); err != nil {
				return err
			}
		}
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	val, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode txn record %s: %w", rec.TxnID, err)
	}
	if err := b.Set(t.recordKey(rec.TxnID), val, nil); err != nil {
		return err
	}
	return b.Set(t.stateKey(rec.State, rec.TxnID), nil, nil)
}

// Put writes rec in its own batch.
func (t *Table) Put(ctx context.Context, rec Record) error {
	b := t.db.NewBatch()
	defer b.Close()
	if err := t.Stage(b, rec); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// ListByState returns every record currently in state s, ordered by id.
func (t *Table) ListByState(s State) ([]Record, error) {
	prefix := t.statePrefix(s)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Record
	for ok := iter.First(); ok; ok = iter.Next() {
		id := string(iter.Key()[len(prefix):])
		rec, found, err := t.Get(id)
		if err != nil {
			return nil, err
		}
		if found && rec.State == s {
			out = append(out, rec)
		}
	}
	return out, iter.Error()
}

// PurgeResolved deletes committed and aborted records last updated before
// cutoff. It returns the number removed.
func (t *Table) PurgeResolved(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []Record
	for _, s := range []State{StateCommitted, StateAborted} {
		recs, err := t.ListByState(s)
		if err != nil {
			return 0, err
		}
		for _, rec := range recs {
			if rec.UpdatedAt.Before(cutoff) {
				stale = append(stale, rec)
			}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	b := t.db.NewBatch()
	defer b.Close()
	for _, rec := range stale {
		if err := b.Delete(t.recordKey(rec.TxnID), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(t.stateKey(rec.State, rec.TxnID), nil); err != nil {
			return 0, err
		}
	}
	if err := t.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
