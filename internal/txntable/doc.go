// Package txntable persists transaction records next to the oplog.
//
// Each record lives at txn/{ns}/r/{txnID} as msgpack, and a per-state index
// key txn/{ns}/s/{state}/{txnID} allows listing prepared transactions without
// scanning every record. Records are normally staged into the same Pebble
// batch as the oplog entry that changes them, so a record is never durable
// later than its entry.
package txntable
