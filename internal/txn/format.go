package txn

import (
	"fmt"

	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/vmihailenco/msgpack/v5"
)

// Format selects how a transaction is laid out in the oplog.
type Format int

const (
	FormatMultiEntry Format = iota
	FormatSingleEntry
)

func (f Format) String() string {
	if f == FormatSingleEntry {
		return "single"
	}
	return "multi"
}

// ParseFormat maps the config spelling to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "multi", "multiEntry", "":
		return FormatMultiEntry, nil
	case "single", "singleEntry":
		return FormatSingleEntry, nil
	}
	return FormatMultiEntry, fmt.Errorf("invalid txn format %q; use multi|single", s)
}

// Write is one buffered operation of a transaction.
type Write struct {
	Op      oplog.Op `msgpack:"o" json:"op"`
	Payload []byte   `msgpack:"p" json:"payload"`
}

// EncodeWrites packs writes into the payload of a combined entry.
func EncodeWrites(ws []Write) ([]byte, error) {
	return msgpack.Marshal(ws)
}

// DecodeWrites unpacks the payload of a combined entry.
func DecodeWrites(b []byte) ([]Write, error) {
	var ws []Write
	if err := msgpack.Unmarshal(b, &ws); err != nil {
		return nil, fmt.Errorf("decode txn writes: %w", err)
	}
	return ws, nil
}
