package controllers

import (
	"github.com/rzbill/oplogd/internal/node"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/internal/txntracker"
	"github.com/rzbill/oplogd/pkg/optime"
)

// Common request/response types for HTTP controllers

// writeReq is one data operation in a request body.
type writeReq struct {
	Op      string `json:"op"`
	Payload []byte `json:"payload"`
}

// beginReq starts a transaction, buffers its writes and optionally prepares it.
type beginReq struct {
	Writes  []writeReq `json:"writes"`
	Prepare bool       `json:"prepare"`
}

// resolveResp is returned by commit and abort.
type resolveResp struct {
	ID string           `json:"id"`
	TS optime.Timestamp `json:"ts"`
}

// insertResp is returned by a non-transactional insert.
type insertResp struct {
	TS optime.Timestamp `json:"ts"`
}

// entryJSON is the wire form of an oplog entry.
type entryJSON struct {
	TS      optime.Timestamp `json:"ts"`
	Op      string           `json:"op"`
	TxnID   string           `json:"txnId,omitempty"`
	StartTS optime.Timestamp `json:"startTs,omitempty"`
	Prepare bool             `json:"prepare,omitempty"`
	Payload []byte           `json:"payload,omitempty"`
}

func toEntryJSON(e oplog.Entry) entryJSON {
	return entryJSON{TS: e.TS, Op: e.Op.String(), TxnID: e.TxnID, StartTS: e.StartTS, Prepare: e.Prepare, Payload: e.Payload}
}

// listOplogResp is a page of entries.
type listOplogResp struct {
	Node    string           `json:"node"`
	Entries []entryJSON      `json:"entries"`
	Next    optime.Timestamp `json:"next,omitempty"`
}

// listTxnsResp lists the transactions a node knows about.
type listTxnsResp struct {
	Node     string             `json:"node"`
	Open     []txn.Info         `json:"open,omitempty"`
	Prepared []txntracker.Entry `json:"prepared"`
}

// statusResp carries the status of every selected node.
type statusResp struct {
	Nodes []node.Status `json:"nodes"`
}
