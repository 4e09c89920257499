package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/runtime"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/pkg/log"
)

// TxnsController drives transactions on the primary.
type TxnsController struct {
	rt *runtime.Runtime
	lg log.Logger
}

// NewTxnsController creates a new transactions controller.
func NewTxnsController(rt *runtime.Runtime, lg log.Logger) *TxnsController {
	return &TxnsController{rt: rt, lg: lg}
}

// RegisterRoutes registers transaction routes with the given router.
func (c *TxnsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/txns", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/txns", c.handleBegin).Methods(http.MethodPost)
	r.HandleFunc("/v1/txns/{id}/prepare", c.handlePrepare).Methods(http.MethodPost)
	r.HandleFunc("/v1/txns/{id}/commit", c.handleCommit).Methods(http.MethodPost)
	r.HandleFunc("/v1/txns/{id}/abort", c.handleAbort).Methods(http.MethodPost)
}

// handleList lists the prepared transactions of a node and, on the
// primary, every open transaction.
func (c *TxnsController) handleList(w http.ResponseWriter, r *http.Request) {
	n, ok := selectNode(c.rt, r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown node")
		return
	}
	resp := listTxnsResp{Node: n.Name(), Prepared: n.Tracker().Prepared()}
	if m, err := n.Txns(); err == nil {
		resp.Open = m.Open()
	}
	writeJSON(w, resp)
}

// handleBegin starts a transaction with the given writes. With "prepare" set
// the transaction is prepared before returning.
func (c *TxnsController) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req beginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ops := make([]oplog.Op, len(req.Writes))
	for i, wr := range req.Writes {
		op, err := oplog.ParseOp(wr.Op)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ops[i] = op
	}
	m, err := c.rt.Primary().Txns()
	if err != nil {
		writeError(w, txnErrorStatus(err), err.Error())
		return
	}
	tx := m.Begin()
	// A failed begin must not leave the transaction open, even when the
	// request context is gone.
	abort := func() {
		if _, err := tx.Abort(context.WithoutCancel(r.Context())); err != nil {
			c.lg.Error("abort failed", log.Str("txn", tx.ID()), log.Err(err))
		}
	}
	for i, wr := range req.Writes {
		if err := tx.Write(r.Context(), ops[i], wr.Payload); err != nil {
			abort()
			writeError(w, txnErrorStatus(err), err.Error())
			return
		}
	}
	if req.Prepare {
		if _, err := tx.Prepare(r.Context()); err != nil {
			c.lg.Error("prepare failed", log.Str("txn", tx.ID()), log.Err(err))
			abort()
			writeError(w, txnErrorStatus(err), err.Error())
			return
		}
	}
	writeCreated(w, tx.Info())
}

func (c *TxnsController) handlePrepare(w http.ResponseWriter, r *http.Request) {
	c.withTxn(w, r, func(tx *txn.Txn) {
		if _, err := tx.Prepare(r.Context()); err != nil {
			writeError(w, txnErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, tx.Info())
	})
}

func (c *TxnsController) handleCommit(w http.ResponseWriter, r *http.Request) {
	c.withTxn(w, r, func(tx *txn.Txn) {
		ts, err := tx.Commit(r.Context())
		if err != nil {
			writeError(w, txnErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, resolveResp{ID: tx.ID(), TS: ts})
	})
}

func (c *TxnsController) handleAbort(w http.ResponseWriter, r *http.Request) {
	c.withTxn(w, r, func(tx *txn.Txn) {
		ts, err := tx.Abort(r.Context())
		if err != nil {
			writeError(w, txnErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, resolveResp{ID: tx.ID(), TS: ts})
	})
}

// withTxn resolves {id} against the primary's open transactions.
func (c *TxnsController) withTxn(w http.ResponseWriter, r *http.Request, fn func(tx *txn.Txn)) {
	m, err := c.rt.Primary().Txns()
	if err != nil {
		writeError(w, txnErrorStatus(err), err.Error())
		return
	}
	tx, err := m.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, txnErrorStatus(err), err.Error())
		return
	}
	fn(tx)
}
