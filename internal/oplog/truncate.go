package oplog

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
	"golang.org/x/time/rate"
)

// DeleteOptions tunes DeleteOlderThan.
type DeleteOptions struct {
	// BatchLimit caps the number of keys per committed batch. Defaults to 1024.
	BatchLimit int
	// Limiter paces batch commits, one token per batch. Optional.
	Limiter *rate.Limiter
}

// DeleteResult summarizes a DeleteOlderThan call.
type DeleteResult struct {
	Deleted int              `json:"deleted"`
	Bytes   int64            `json:"bytes"`
	First   optime.Timestamp `json:"first"`
	Last    optime.Timestamp `json:"last"`
}

// DeleteOlderThan deletes every entry with a timestamp strictly less than ts.
// The entry at ts and everything after it is kept. Batches already committed
// stay deleted when a later batch fails; the result reports them.
func (l *Log) DeleteOlderThan(ctx context.Context, ts optime.Timestamp, opts DeleteOptions) (DeleteResult, error) {
	var res DeleteResult
	if ts.IsNull() {
		return res, nil
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 1024
	}

	l.truncMu.Lock()
	defer l.truncMu.Unlock()

	low, _ := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: KeyEntry(l.ns, ts)})
	if err != nil {
		return res, err
	}
	defer iter.Close()

	for ok := iter.First(); ok; {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b := l.db.NewBatch()
		var n int
		var bytes int64
		var first, last optime.Timestamp
		for ok && n < opts.BatchLimit {
			last = tsFromEntryKey(iter.Key())
			if n == 0 {
				first = last
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return res, err
			}
			bytes += int64(len(iter.Value()))
			n++
			ok = iter.Next()
		}
		if err := iter.Error(); err != nil {
			b.Close()
			return res, err
		}
		if n == 0 {
			b.Close()
			break
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				b.Close()
				return res, err
			}
		}
		if err := l.commitDelete(ctx, b, n, bytes); err != nil {
			b.Close()
			return res, err
		}
		b.Close()

		if res.Deleted == 0 {
			res.First = first
		}
		res.Deleted += n
		res.Bytes += bytes
		res.Last = last
		l.hook.EmitTruncatedRange(l.ns, first, last)
	}
	return res, nil
}

// commitDelete commits a delete batch together with the metadata update under
// the append lock.
func (l *Log) commitDelete(ctx context.Context, b *pebble.Batch, n int, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.totalBytes.Load() - bytes
	count := l.count.Load() - int64(n)
	if err := b.Set(KeyMeta(l.ns), encodeMeta(l.Newest(), total, count), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	l.totalBytes.Store(total)
	l.count.Store(count)
	return nil
}

// SizeCutoff returns the timestamp of the oldest entry that must be kept so
// that deleting everything older brings the log to at most maxBytes. It
// returns Null when the log is already within budget. The newest entry is
// never part of the deletable range, so the cutoff is at most Newest().
func (l *Log) SizeCutoff(maxBytes int64) (optime.Timestamp, error) {
	total := l.totalBytes.Load()
	if total <= maxBytes {
		return optime.Null, nil
	}
	low, high := entryBounds(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return optime.Null, err
	}
	defer iter.Close()

	var last optime.Timestamp
	for ok := iter.First(); ok; ok = iter.Next() {
		last = tsFromEntryKey(iter.Key())
		if total <= maxBytes {
			return last, nil
		}
		total -= int64(len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return optime.Null, err
	}
	return last, nil
}
