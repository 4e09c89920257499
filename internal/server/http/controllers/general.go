package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rzbill/oplogd/internal/node"
	"github.com/rzbill/oplogd/internal/runtime"
)

// GeneralController handles health and status endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given router.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Retention status of every node (/v1/status)
func (c *GeneralController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/healthz", c.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", c.handleStatus).Methods(http.MethodGet)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleStatus returns the status of one node (?node=) or of all nodes.
func (c *GeneralController) handleStatus(w http.ResponseWriter, r *http.Request) {
	nodes := c.rt.Nodes()
	if name := r.URL.Query().Get("node"); name != "" {
		n, ok := c.rt.Node(name)
		if !ok {
			writeError(w, http.StatusNotFound, "Unknown node")
			return
		}
		nodes = []*node.Node{n}
	}
	resp := statusResp{Nodes: make([]node.Status, 0, len(nodes))}
	for _, n := range nodes {
		st, err := n.Status()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read status of "+n.Name())
			return
		}
		resp.Nodes = append(resp.Nodes, st)
	}
	writeJSON(w, resp)
}
