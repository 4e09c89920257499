package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txntable"
	"github.com/rzbill/oplogd/internal/txntracker"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
)

// ErrFellOffOplog is returned when the source has already truncated entries
// the secondary still needs.
var ErrFellOffOplog = errors.New("replication: fell off the source oplog")

// Source is the primary's oplog as seen by a secondary.
type Source interface {
	Read(opts oplog.ReadOptions) ([]oplog.Entry, optime.Timestamp, error)
	Oldest() (oplog.Entry, bool, error)
	WaitForAppend(timeout time.Duration) bool
	CommitCursor(member string, ts optime.Timestamp) error
}

// Options configures an Applier.
type Options struct {
	// Member names this secondary in the source's cursors.
	Member string
	// BatchSize is the number of entries read per batch. Defaults to 256.
	// A batch grows past it until every transaction it touches reaches
	// the entry that records its state.
	BatchSize int
	// PollInterval bounds how long Run waits for new entries. Defaults to 200ms.
	PollInterval time.Duration
	Logger       log.Logger
}

// Applier tails a Source into the local log.
type Applier struct {
	src     Source
	log     *oplog.Log
	table   *txntable.Table
	tracker *txntracker.Tracker
	opts    Options
	lg      log.Logger

	mu      sync.Mutex
	applied optime.Timestamp
	lastErr error
}

// New returns an applier for the local log, side-table and tracker.
func New(src Source, l *oplog.Log, table *txntable.Table, tracker *txntracker.Tracker, opts Options) *Applier {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.NewNopLogger()
	}
	return &Applier{
		src:     src,
		log:     l,
		table:   table,
		tracker: tracker,
		opts:    opts,
		lg:      lg.WithComponent("applier").With(log.Str("member", opts.Member)),
		applied: l.Newest(),
	}
}

// Applied returns the newest applied timestamp.
func (a *Applier) Applied() optime.Timestamp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Err returns the error that stopped Run, if any.
func (a *Applier) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// ApplyOnce applies at most one batch and returns the number of entries.
func (a *Applier) ApplyOnce(ctx context.Context) (int, error) {
	resume := a.log.Newest()
	start := optime.Null
	if !resume.IsNull() {
		start = resume.Next()
	}
	entries, err := a.readBatch(start)
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}
	// The source only deletes from its oldest end. If its oldest entry is
	// still at or before resume after the read, nothing we need was lost.
	if !resume.IsNull() {
		oldest, ok, err := a.src.Oldest()
		if err != nil {
			return 0, err
		}
		if ok && oldest.TS > resume {
			return 0, fmt.Errorf("%w: need entries after %s, source starts at %s", ErrFellOffOplog, resume, oldest.TS)
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	release := a.tracker.Hold()
	defer release()
	tss, err := a.log.Append(ctx, entries, oplog.WithTimestamps(), oplog.WithBatch(a.stageRecords))
	if err != nil {
		return 0, err
	}
	a.updateTracker(entries)
	last := tss[len(tss)-1]

	a.mu.Lock()
	a.applied = last
	a.lastErr = nil
	a.mu.Unlock()
	if err := a.src.CommitCursor(a.opts.Member, last); err != nil {
		a.lg.Warn("report progress failed", log.Err(err))
	}
	return len(entries), nil
}

// readBatch reads from start and never ends inside a transaction: the read
// continues past BatchSize until each transaction seen has its prepare,
// commit or abort entry. Entries of a transaction still open when the
// source runs out are left for a later batch.
func (a *Applier) readBatch(start optime.Timestamp) ([]oplog.Entry, error) {
	entries, next, err := a.src.Read(oplog.ReadOptions{Start: start, Limit: a.opts.BatchSize})
	if err != nil {
		return nil, err
	}
	open := make(map[string]int)
	for i, e := range entries {
		trackOpen(open, i, e)
	}
	for len(open) > 0 && !next.IsNull() {
		var more []oplog.Entry
		more, next, err = a.src.Read(oplog.ReadOptions{Start: next, Limit: a.opts.BatchSize})
		if err != nil {
			return nil, err
		}
		for _, e := range more {
			entries = append(entries, e)
			trackOpen(open, len(entries)-1, e)
			if len(open) == 0 {
				break
			}
		}
	}
	if len(open) == 0 {
		return entries, nil
	}
	cut := len(entries)
	for _, i := range open {
		if i < cut {
			cut = i
		}
	}
	a.lg.Debug("holding back open transaction", log.Int("entries", len(entries)-cut))
	return entries[:cut], nil
}

// trackOpen records the index of the first entry of each transaction that
// has no state-bearing entry yet.
func trackOpen(open map[string]int, i int, e oplog.Entry) {
	if !e.Transactional() {
		return
	}
	if _, ok := recordState(e); ok {
		delete(open, e.TxnID)
		return
	}
	if _, ok := open[e.TxnID]; !ok {
		open[e.TxnID] = i
	}
}

// stageRecords writes the final side-table row of every transaction touched
// by the batch.
func (a *Applier) stageRecords(b *pebble.Batch, es []oplog.Entry) error {
	var order []string
	recs := make(map[string]*txntable.Record)
	for _, e := range es {
		if !e.Transactional() {
			continue
		}
		state, ok := recordState(e)
		if !ok {
			continue
		}
		rec, seen := recs[e.TxnID]
		if !seen {
			prev, found, err := a.table.Get(e.TxnID)
			if err != nil {
				return err
			}
			if !found {
				prev = txntable.Record{TxnID: e.TxnID, StartOpTime: e.StartTS}
			}
			rec = &prev
			recs[e.TxnID] = rec
			order = append(order, e.TxnID)
		}
		rec.State = state
		rec.LastWriteTS = e.TS
		if e.Prepare {
			rec.PrepareTS = e.TS
		}
	}
	for _, id := range order {
		if err := a.table.Stage(b, *recs[id]); err != nil {
			return err
		}
	}
	return nil
}

// recordState maps an entry to the transaction state it establishes.
func recordState(e oplog.Entry) (txntable.State, bool) {
	switch {
	case e.Prepare:
		return txntable.StatePrepared, true
	case e.Op == oplog.OpCommit:
		return txntable.StateCommitted, true
	case e.Op == oplog.OpAbort:
		return txntable.StateAborted, true
	}
	return "", false
}

func (a *Applier) updateTracker(es []oplog.Entry) {
	for _, e := range es {
		state, ok := recordState(e)
		if !ok || !e.Transactional() {
			continue
		}
		if state == txntable.StatePrepared {
			if err := a.tracker.RecordPrepared(e.TxnID, e.StartTS); err != nil {
				a.lg.Error("tracker rejected replicated prepare", log.Str("txn", e.TxnID), log.Err(err))
			}
			continue
		}
		a.tracker.RecordResolved(e.TxnID)
	}
}

// Run applies batches until ctx is done. Transient errors are logged and
// retried; falling off the source oplog stops the applier.
func (a *Applier) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := a.ApplyOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			if errors.Is(err, ErrFellOffOplog) {
				a.lg.Error("secondary is too stale to continue", log.Err(err))
				return nil
			}
			a.lg.Warn("apply failed", log.Err(err))
		}
		if n == 0 || err != nil {
			a.wait(ctx)
		}
	}
}

func (a *Applier) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.src.WaitForAppend(a.opts.PollInterval)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}
