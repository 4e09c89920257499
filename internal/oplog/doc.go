// Package oplog implements the node's append-only replicated operation log.
//
// # Overview
//
// The log is persisted in Pebble and ordered by optime.Timestamp. Keys are
// lexicographically ordered for efficient range scans:
//   - oplog/{ns}/m              (metadata: newestTS | totalBytes | count)
//   - oplog/{ns}/e/{ts_be8}     (entries)
//   - oplog/{ns}/c/{member}     (replication progress cursors)
//
// Records are stored as: uvarint headerLen | header | payload | crc32c(header|payload),
// where the header is the msgpack encoding of the entry metadata.
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "local")
//	// Append a batch atomically; the primary assigns timestamps
//	tss, _ := l.Append(ctx, []Entry{{Op: OpInsert, Payload: p}})
//
//	// Stage side-table rows in the same Pebble batch as the entries
//	_, _ = l.Append(ctx, entries, WithBatch(func(b *pebble.Batch, es []Entry) error { ... }))
//
//	// Secondaries keep the primary's timestamps
//	_, _ = l.Append(ctx, replicated, WithTimestamps())
//
//	// Retention primitives
//	cutoff, _ := l.SizeCutoff(maxBytes)     // oldest entry that must be kept
//	res, _ := l.DeleteOlderThan(ctx, cutoff, DeleteOptions{BatchLimit: 1024})
//
//	// Reads, tailing and progress cursors
//	items, next, _ := l.Read(ReadOptions{Start: tss[0], Limit: 100})
//	woke := l.WaitForAppend(200 * time.Millisecond)
//	_ = l.CommitCursor("secondary-1", tss[len(tss)-1])
//
// Appends are serialized by the log. Deletions only touch the oldest end of
// the keyspace; they build their batch from an iterator without holding the
// append lock and take it only to commit together with the metadata update.
//
// # Truncation hook
//
// When deletions remove entries, the TruncateHook is called with the
// contiguous range {first, last} deleted by each committed batch.
package oplog
