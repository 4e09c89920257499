package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/runtime"
	"github.com/rzbill/oplogd/pkg/log"
)

const (
	defaultReadLimit = 100
	maxReadLimit     = 1000
)

// OplogController exposes reads and non-transactional writes of the oplog,
// and manual truncation.
type OplogController struct {
	rt *runtime.Runtime
	lg log.Logger
}

// NewOplogController creates a new oplog controller.
func NewOplogController(rt *runtime.Runtime, lg log.Logger) *OplogController {
	return &OplogController{rt: rt, lg: lg}
}

// RegisterRoutes registers oplog routes with the given router.
func (c *OplogController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/oplog", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/oplog", c.handleInsert).Methods(http.MethodPost)
	r.HandleFunc("/v1/truncate", c.handleTruncate).Methods(http.MethodPost)
}

// handleList returns a page of entries.
//
// Query: node, start ("secs:inc"), limit (default 100, max 1000), reverse.
func (c *OplogController) handleList(w http.ResponseWriter, r *http.Request) {
	n, ok := selectNode(c.rt, r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown node")
		return
	}
	q := r.URL.Query()
	start, err := parseTimestamp(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(q.Get("limit"))
	if limit == 0 {
		limit = defaultReadLimit
	}
	if limit > maxReadLimit {
		limit = maxReadLimit
	}
	entries, next, err := n.Log().Read(oplog.ReadOptions{Start: start, Limit: limit, Reverse: parseBool(q.Get("reverse"))})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := listOplogResp{Node: n.Name(), Entries: make([]entryJSON, 0, len(entries)), Next: next}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryJSON(e))
	}
	writeJSON(w, resp)
}

// handleInsert appends a non-transactional write to the primary.
//
// Expects a JSON body {"op": "insert", "payload": "<base64>"}.
func (c *OplogController) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req writeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	op, err := oplog.ParseOp(req.Op)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := c.rt.Primary().Txns()
	if err != nil {
		writeError(w, txnErrorStatus(err), err.Error())
		return
	}
	ts, err := m.Insert(r.Context(), op, req.Payload)
	if err != nil {
		c.lg.Error("insert failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to insert")
		return
	}
	writeCreated(w, insertResp{TS: ts})
}

// handleTruncate runs one truncation tick on the selected node.
func (c *OplogController) handleTruncate(w http.ResponseWriter, r *http.Request) {
	n, ok := selectNode(c.rt, r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown node")
		return
	}
	res, err := n.Truncate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Truncation failed: "+err.Error())
		return
	}
	writeJSON(w, res)
}
