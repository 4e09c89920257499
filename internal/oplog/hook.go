package oplog

import "github.com/rzbill/oplogd/pkg/optime"

// TruncateHook is an optional callback invoked when deletions commit.
// Implementations may record metrics or forward the range to an archiver.
type TruncateHook interface {
	EmitTruncatedRange(ns string, first, last optime.Timestamp)
}

type noopHook struct{}

func (noopHook) EmitTruncatedRange(string, optime.Timestamp, optime.Timestamp) {}
