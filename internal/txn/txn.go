package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txntable"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
)

// Txn is a single transaction. Its methods are safe for concurrent use but
// calls are serialized.
type Txn struct {
	m  *Manager
	id string

	mu        sync.Mutex
	state     txntable.State
	writes    []Write
	start     optime.Timestamp
	prepareTS optime.Timestamp
	resolveTS optime.Timestamp
}

// Info is a point-in-time view of a transaction.
type Info struct {
	ID          string           `json:"id"`
	State       txntable.State   `json:"state"`
	StartOpTime optime.Timestamp `json:"startOpTime"`
	PrepareTS   optime.Timestamp `json:"prepareTs"`
	ResolveTS   optime.Timestamp `json:"resolveTs"`
	Writes      int              `json:"writes"`
}

// ID returns the transaction id.
func (t *Txn) ID() string { return t.id }

// Info returns the current state of the transaction.
func (t *Txn) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:          t.id,
		State:       t.state,
		StartOpTime: t.start,
		PrepareTS:   t.prepareTS,
		ResolveTS:   t.resolveTS,
		Writes:      len(t.writes),
	}
}

func (t *Txn) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s %s transaction %s", ErrInvalidState, action, t.state, t.id)
}

// Write buffers an operation. It is logged at Prepare or Commit.
func (t *Txn) Write(ctx context.Context, op oplog.Op, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txntable.StateRunning {
		return t.invalid("write to")
	}
	t.writes = append(t.writes, Write{Op: op, Payload: append([]byte(nil), payload...)})
	return nil
}

// writeEntries lays out the buffered writes followed by a closing entry of
// kind op. In the single-entry format the writes ride in the closing entry.
func (t *Txn) writeEntries(op oplog.Op, prepare bool) ([]oplog.Entry, error) {
	closing := oplog.Entry{Op: op, TxnID: t.id, Prepare: prepare}
	if t.m.format == FormatSingleEntry {
		payload, err := EncodeWrites(t.writes)
		if err != nil {
			return nil, err
		}
		closing.Payload = payload
		return []oplog.Entry{closing}, nil
	}
	entries := make([]oplog.Entry, 0, len(t.writes)+1)
	for _, w := range t.writes {
		entries = append(entries, oplog.Entry{Op: w.Op, TxnID: t.id, Payload: w.Payload})
	}
	return append(entries, closing), nil
}

// Prepare logs the transaction and its prepare record and returns the
// timestamp of the prepare entry. From here on the transaction pins oplog
// truncation at its start time until it is resolved.
func (t *Txn) Prepare(ctx context.Context) (optime.Timestamp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txntable.StateRunning {
		return optime.Null, t.invalid("prepare")
	}
	entries, err := t.writeEntries(oplog.OpPrepare, true)
	if err != nil {
		return optime.Null, err
	}

	release := t.m.tracker.Hold()
	defer release()
	written, err := t.m.appendWithRecord(ctx, entries, func(es []oplog.Entry) txntable.Record {
		last := es[len(es)-1]
		return txntable.Record{
			TxnID:       t.id,
			StartOpTime: last.StartTS,
			State:       txntable.StatePrepared,
			PrepareTS:   last.TS,
			LastWriteTS: last.TS,
		}
	})
	if err != nil {
		return optime.Null, err
	}
	last := written[len(written)-1]
	t.state = txntable.StatePrepared
	t.start = last.StartTS
	t.prepareTS = last.TS
	t.writes = nil
	if err := t.m.tracker.RecordPrepared(t.id, t.start); err != nil {
		t.m.lg.Error("tracker rejected prepared transaction", log.Str("txn", t.id), log.Err(err))
		return t.prepareTS, err
	}
	t.m.lg.Debug("transaction prepared", log.Str("txn", t.id), log.Stringer("start", t.start), log.Stringer("prepare", t.prepareTS))
	return t.prepareTS, nil
}

// Commit logs the commit. A running transaction is logged and committed in
// one batch; a prepared one gets a commit entry and stops pinning truncation.
func (t *Txn) Commit(ctx context.Context) (optime.Timestamp, error) {
	return t.resolve(ctx, oplog.OpCommit, txntable.StateCommitted)
}

// Abort logs the abort of a prepared transaction. A running transaction has
// nothing in the log and is dropped; the returned timestamp is then Null.
func (t *Txn) Abort(ctx context.Context) (optime.Timestamp, error) {
	return t.resolve(ctx, oplog.OpAbort, txntable.StateAborted)
}

func (t *Txn) resolve(ctx context.Context, op oplog.Op, state txntable.State) (optime.Timestamp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case txntable.StateRunning:
		if state == txntable.StateAborted {
			t.finish(state, optime.Null)
			return optime.Null, nil
		}
		entries, err := t.writeEntries(op, false)
		if err != nil {
			return optime.Null, err
		}
		written, err := t.m.appendWithRecord(ctx, entries, func(es []oplog.Entry) txntable.Record {
			last := es[len(es)-1]
			return txntable.Record{TxnID: t.id, StartOpTime: last.StartTS, State: state, LastWriteTS: last.TS}
		})
		if err != nil {
			return optime.Null, err
		}
		last := written[len(written)-1]
		t.start = last.StartTS
		t.finish(state, last.TS)
		return last.TS, nil

	case txntable.StatePrepared:
		entry := oplog.Entry{Op: op, TxnID: t.id, StartTS: t.start}
		release := t.m.tracker.Hold()
		defer release()
		written, err := t.m.appendWithRecord(ctx, []oplog.Entry{entry}, func(es []oplog.Entry) txntable.Record {
			return txntable.Record{TxnID: t.id, StartOpTime: t.start, State: state, PrepareTS: t.prepareTS, LastWriteTS: es[0].TS}
		})
		if err != nil {
			return optime.Null, err
		}
		t.m.tracker.RecordResolved(t.id)
		t.finish(state, written[0].TS)
		t.m.lg.Debug("prepared transaction resolved", log.Str("txn", t.id), log.Str("state", string(state)), log.Stringer("ts", t.resolveTS))
		return t.resolveTS, nil
	}
	verb := "commit"
	if state == txntable.StateAborted {
		verb = "abort"
	}
	return optime.Null, t.invalid(verb)
}

func (t *Txn) finish(state txntable.State, ts optime.Timestamp) {
	t.state = state
	t.resolveTS = ts
	t.writes = nil
	t.m.forget(t.id)
}
