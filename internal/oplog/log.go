package oplog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
)

var (
	ErrNotFound   = errors.New("oplog entry not found")
	ErrOutOfOrder = errors.New("oplog entry timestamp not after newest")
	ErrCorrupt    = errors.New("oplog entry corrupt")
)

// Log provides append-only operations for a single oplog namespace.
type Log struct {
	db    *pebblestore.DB
	ns    string
	clock *optime.Clock
	hook  TruncateHook

	// mu serializes appends and metadata updates.
	mu       sync.Mutex
	notifyCh chan struct{}
	// truncMu serializes deleters.
	truncMu sync.Mutex

	newest     atomic.Uint64
	totalBytes atomic.Int64
	count      atomic.Int64
}

// Option configures a Log.
type Option func(*Log)

// WithClock supplies the timestamp source for appends. Defaults to a wall clock.
func WithClock(c *optime.Clock) Option { return func(l *Log) { l.clock = c } }

// WithTruncateHook registers an observer of deleted ranges.
func WithTruncateHook(h TruncateHook) Option { return func(l *Log) { l.hook = h } }

// OpenLog initializes a Log and loads its metadata. If the metadata key is
// missing but entries exist, the counters are rebuilt from a scan.
func OpenLog(db *pebblestore.DB, ns string, opts ...Option) (*Log, error) {
	l := &Log{db: db, ns: ns, notifyCh: make(chan struct{}), hook: noopHook{}}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = optime.NewClock()
	}

	meta, err := db.Get(KeyMeta(ns))
	switch {
	case err == nil && len(meta) >= 24:
		l.newest.Store(binary.BigEndian.Uint64(meta[0:8]))
		l.totalBytes.Store(int64(binary.BigEndian.Uint64(meta[8:16])))
		l.count.Store(int64(binary.BigEndian.Uint64(meta[16:24])))
	case err == nil || pebblestore.IsNotFound(err):
		if err := l.rebuildMeta(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load oplog meta: %w", err)
	}
	l.clock.Observe(optime.Timestamp(l.newest.Load()))
	return l, nil
}

func (l *Log) rebuildMeta() error {
	low, high := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return err
	}
	defer iter.Close()
	var total, n int64
	var newest optime.Timestamp
	for ok := iter.First(); ok; ok = iter.Next() {
		total += int64(len(iter.Value()))
		n++
		newest = tsFromEntryKey(iter.Key())
	}
	l.newest.Store(uint64(newest))
	l.totalBytes.Store(total)
	l.count.Store(n)
	return nil
}

func encodeMeta(newest optime.Timestamp, total, count int64) []byte {
	var meta [24]byte
	binary.BigEndian.PutUint64(meta[0:8], uint64(newest))
	binary.BigEndian.PutUint64(meta[8:16], uint64(total))
	binary.BigEndian.PutUint64(meta[16:24], uint64(count))
	return meta[:]
}

// Namespace returns the log namespace.
func (l *Log) Namespace() string { return l.ns }

// DB exposes the underlying store for components that share it (side-table, checkpoints).
func (l *Log) DB() *pebblestore.DB { return l.db }

// SizeBytes returns the encoded size of all entries currently in the log.
func (l *Log) SizeBytes() int64 { return l.totalBytes.Load() }

// Count returns the number of entries currently in the log.
func (l *Log) Count() int64 { return l.count.Load() }

// Newest returns the timestamp of the newest entry ever appended, or Null.
// It does not move backwards when entries are deleted.
func (l *Log) Newest() optime.Timestamp { return optime.Timestamp(l.newest.Load()) }

// AppendOption customizes a single Append call.
type AppendOption func(*appendOptions)

type appendOptions struct {
	keepTimestamps bool
	stages         []func(*pebble.Batch, []Entry) error
}

// WithTimestamps keeps the timestamps already set on the entries instead of
// assigning new ones. Used when applying entries replicated from a primary.
func WithTimestamps() AppendOption {
	return func(o *appendOptions) { o.keepTimestamps = true }
}

// WithBatch stages extra mutations in the same Pebble batch as the entries.
// fn sees the entries with their final timestamps.
func WithBatch(fn func(b *pebble.Batch, entries []Entry) error) AppendOption {
	return func(o *appendOptions) { o.stages = append(o.stages, fn) }
}

// Append appends the provided entries as a single atomic batch and returns
// their timestamps.
func (l *Log) Append(ctx context.Context, entries []Entry, opts ...AppendOption) ([]optime.Timestamp, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var ao appendOptions
	for _, opt := range opts {
		opt(&ao)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	out := make([]Entry, len(entries))
	tss := make([]optime.Timestamp, len(entries))
	newest := l.Newest()
	var added int64
	var starts map[string]optime.Timestamp
	for i, e := range entries {
		if ao.keepTimestamps {
			if e.TS <= newest {
				return nil, fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, e.TS, newest)
			}
		} else {
			e.TS = l.clock.Next()
			if e.TS <= newest {
				l.clock.Observe(newest)
				e.TS = l.clock.Next()
			}
		}
		// A transaction entry without a start time starts at the first entry
		// of the same transaction in this batch.
		if e.Transactional() && e.StartTS.IsNull() {
			if starts == nil {
				starts = make(map[string]optime.Timestamp)
			}
			if _, ok := starts[e.TxnID]; !ok {
				starts[e.TxnID] = e.TS
			}
			e.StartTS = starts[e.TxnID]
		}
		val, err := encodeEntry(e)
		if err != nil {
			return nil, err
		}
		if err := b.Set(KeyEntry(l.ns, e.TS), val, nil); err != nil {
			return nil, err
		}
		added += int64(len(val))
		newest = e.TS
		out[i] = e
		tss[i] = e.TS
	}
	for _, stage := range ao.stages {
		if err := stage(b, out); err != nil {
			return nil, err
		}
	}

	total := l.totalBytes.Load() + added
	count := l.count.Load() + int64(len(entries))
	if err := b.Set(KeyMeta(l.ns), encodeMeta(newest, total, count), nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	if ao.keepTimestamps {
		l.clock.Observe(newest)
	}
	l.newest.Store(uint64(newest))
	l.totalBytes.Store(total)
	l.count.Store(count)

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return tss, nil
}

// Get returns the entry at ts.
func (l *Log) Get(ts optime.Timestamp) (Entry, error) {
	val, err := l.db.Get(KeyEntry(l.ns, ts))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, ts)
		}
		return Entry{}, err
	}
	return decodeEntry(ts, val)
}

// Oldest returns the oldest entry still present.
func (l *Log) Oldest() (Entry, bool, error) {
	low, high := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return Entry{}, false, err
	}
	defer iter.Close()
	if !iter.First() {
		return Entry{}, false, iter.Error()
	}
	e, err := decodeEntry(tsFromEntryKey(iter.Key()), iter.Value())
	return e, err == nil, err
}

// FindFirst returns the oldest entry matching pred.
func (l *Log) FindFirst(pred func(Entry) bool) (Entry, bool, error) {
	low, high := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return Entry{}, false, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		e, err := decodeEntry(tsFromEntryKey(iter.Key()), iter.Value())
		if err != nil {
			return Entry{}, false, err
		}
		if pred(e) {
			return e, true, nil
		}
	}
	return Entry{}, false, iter.Error()
}
