package oplog

import (
	"encoding/binary"

	"github.com/rzbill/oplogd/pkg/optime"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - oplog/{ns}/m
// - oplog/{ns}/e/{ts_be8}
// - oplog/{ns}/c/{member}

var (
	logPrefix  = []byte("oplog/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
	cursorSeg  = []byte("/c/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func nsKey(ns string, extra int) []byte {
	k := make([]byte, 0, len(logPrefix)+len(ns)+extra)
	k = append(k, logPrefix...)
	k = append(k, ns...)
	return k
}

// KeyMeta builds the log metadata key.
func KeyMeta(ns string) []byte {
	return append(nsKey(ns, len(metaSuffix)), metaSuffix...)
}

// KeyEntry builds the entry key with a big-endian timestamp for proper ordering.
func KeyEntry(ns string, ts optime.Timestamp) []byte {
	k := nsKey(ns, len(entrySeg)+8)
	k = append(k, entrySeg...)
	return appendBE8(k, uint64(ts))
}

// entryBounds returns [low, high) covering every entry key of ns.
func entryBounds(ns string) ([]byte, []byte) {
	low := KeyEntry(ns, 0)
	high := append(KeyEntry(ns, optime.Timestamp(^uint64(0))), 0x00)
	return low, high
}

// tsFromEntryKey decodes the timestamp suffix of an entry key.
func tsFromEntryKey(k []byte) optime.Timestamp {
	return optime.FromBytes(k[len(k)-8:])
}

// KeyCursor builds the durable progress cursor key for a member.
func KeyCursor(ns, member string) []byte {
	k := nsKey(ns, len(cursorSeg)+len(member))
	k = append(k, cursorSeg...)
	return append(k, member...)
}

// KeyCursorPrefix returns the range prefix of all cursors of ns.
func KeyCursorPrefix(ns string) []byte {
	k := nsKey(ns, len(cursorSeg))
	return append(k, cursorSeg...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
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
