package oplog

import (
	"github.com/cockroachdb/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
)

// ReadOptions selects a range of entries.
type ReadOptions struct {
	// Start is inclusive. Null begins at the oldest entry (newest when Reverse).
	Start   optime.Timestamp
	Limit   int
	Reverse bool
}

// Read returns up to Limit entries starting at Start, plus the timestamp to
// resume from (Null when the range is exhausted). An undecodable entry stops
// the read with ErrCorrupt; no entry is ever skipped.
func (l *Log) Read(opts ReadOptions) ([]Entry, optime.Timestamp, error) {
	low, high := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, optime.Null, err
	}
	defer iter.Close()

	items := make([]Entry, 0, max(1, opts.Limit))
	var next optime.Timestamp

	var ok bool
	var step func() bool
	startKey := KeyEntry(l.ns, opts.Start)
	if opts.Reverse {
		step = iter.Prev
		if opts.Start.IsNull() {
			ok = iter.Last()
		} else {
			ok = iter.SeekLT(append(startKey, 0x00))
		}
	} else {
		step = iter.Next
		if opts.Start.IsNull() {
			ok = iter.First()
		} else {
			ok = iter.SeekGE(startKey)
		}
	}

	for ; ok && (opts.Limit == 0 || len(items) < opts.Limit); ok = step() {
		e, err := decodeEntry(tsFromEntryKey(iter.Key()), iter.Value())
		if err != nil {
			return nil, optime.Null, err
		}
		items = append(items, e)
	}
	if err := iter.Error(); err != nil {
		return nil, optime.Null, err
	}
	if ok && iter.Valid() {
		next = tsFromEntryKey(iter.Key())
	}
	return items, next, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
