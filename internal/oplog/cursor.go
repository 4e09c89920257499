package oplog

import (
	"github.com/cockroachdb/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
)

// CommitCursor stores the last applied timestamp reported by a member. A
// timestamp at or below the stored one is ignored.
func (l *Log) CommitCursor(member string, ts optime.Timestamp) error {
	key := KeyCursor(l.ns, member)
	cur, err := l.db.Get(key)
	if err == nil && optime.FromBytes(cur) >= ts {
		return nil
	}
	return l.db.Set(key, ts.Bytes())
}

// GetCursor loads the last committed timestamp of a member.
func (l *Log) GetCursor(member string) (optime.Timestamp, bool) {
	cur, err := l.db.Get(KeyCursor(l.ns, member))
	if err != nil || len(cur) < 8 {
		return optime.Null, false
	}
	return optime.FromBytes(cur), true
}

// Cursors returns every member cursor of the log.
func (l *Log) Cursors() (map[string]optime.Timestamp, error) {
	prefix := KeyCursorPrefix(l.ns)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(map[string]optime.Timestamp)
	for ok := iter.First(); ok; ok = iter.Next() {
		out[string(iter.Key()[len(prefix):])] = optime.FromBytes(iter.Value())
	}
	return out, iter.Error()
}
