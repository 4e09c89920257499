package controllers

import (
	"github.com/gorilla/mux"
	"github.com/rzbill/oplogd/internal/runtime"
	"github.com/rzbill/oplogd/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general *GeneralController
	oplog   *OplogController
	txns    *TxnsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, lg log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		oplog:   NewOplogController(rt, lg),
		txns:    NewTxnsController(rt, lg),
	}
}

// RegisterAllRoutes registers all controller routes with the given router.
func (r *ControllerRegistry) RegisterAllRoutes(router *mux.Router) {
	r.general.RegisterRoutes(router)
	r.oplog.RegisterRoutes(router)
	r.txns.RegisterRoutes(router)
}
