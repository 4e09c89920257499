package oplog

import (
	"fmt"

	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/vmihailenco/msgpack/v5"
)

// Op identifies the kind of operation an entry records.
type Op byte

const (
	OpInsert  Op = 'i'
	OpUpdate  Op = 'u'
	OpDelete  Op = 'd'
	OpNoop    Op = 'n'
	OpCommand Op = 'c'
	OpPrepare Op = 'p'
	OpCommit  Op = 'C'
	OpAbort   Op = 'A'
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpNoop:
		return "noop"
	case OpCommand:
		return "command"
	case OpPrepare:
		return "prepare"
	case OpCommit:
		return "commit"
	case OpAbort:
		return "abort"
	}
	return fmt.Sprintf("op(%d)", byte(o))
}

// ParseOp resolves the name of a data operation, as accepted from clients.
// Transaction control ops are logged by the transaction path only.
func ParseOp(s string) (Op, error) {
	switch s {
	case "insert", "i", "":
		return OpInsert, nil
	case "update", "u":
		return OpUpdate, nil
	case "delete", "d":
		return OpDelete, nil
	case "noop", "n":
		return OpNoop, nil
	case "command", "c":
		return OpCommand, nil
	}
	return 0, fmt.Errorf("invalid op %q; use insert|update|delete|noop|command", s)
}

// Entry is a single oplog entry. Entries are immutable once appended.
type Entry struct {
	TS optime.Timestamp
	Op Op
	// TxnID is empty for non-transactional writes.
	TxnID string
	// StartTS is the timestamp of the transaction's first entry; set on every
	// transactional entry once known.
	StartTS optime.Timestamp
	// Prepare marks the entry that carries the transaction's prepare record.
	Prepare bool
	Payload []byte
}

// Transactional reports whether the entry belongs to a transaction.
func (e Entry) Transactional() bool { return e.TxnID != "" }

type entryHeader struct {
	Op      Op     `msgpack:"o"`
	TxnID   string `msgpack:"x,omitempty"`
	StartTS uint64 `msgpack:"s,omitempty"`
	Prepare bool   `msgpack:"p,omitempty"`
}

func encodeEntry(e Entry) ([]byte, error) {
	h, err := msgpack.Marshal(entryHeader{Op: e.Op, TxnID: e.TxnID, StartTS: uint64(e.StartTS), Prepare: e.Prepare})
	if err != nil {
		return nil, fmt.Errorf("encode entry header: %w", err)
	}
	return EncodeRecord(h, e.Payload), nil
}

func decodeEntry(ts optime.Timestamp, val []byte) (Entry, error) {
	dec, ok := DecodeRecord(val)
	if !ok {
		return Entry{}, fmt.Errorf("%w at %s", ErrCorrupt, ts)
	}
	var h entryHeader
	if err := msgpack.Unmarshal(dec.Header, &h); err != nil {
		return Entry{}, fmt.Errorf("%w at %s: %v", ErrCorrupt, ts, err)
	}
	return Entry{
		TS:      ts,
		Op:      h.Op,
		TxnID:   h.TxnID,
		StartTS: optime.Timestamp(h.StartTS),
		Prepare: h.Prepare,
		Payload: dec.Payload,
	}, nil
}
