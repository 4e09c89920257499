package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rzbill/oplogd/internal/node"
	"github.com/rzbill/oplogd/internal/runtime"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/pkg/optime"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeCreated writes a 201 Created response with a JSON body.
func writeCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(data)
}

// txnErrorStatus maps transaction errors to HTTP status codes.
func txnErrorStatus(err error) int {
	switch {
	case errors.Is(err, txn.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, txn.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, node.ErrNotPrimary):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// selectNode resolves the "node" query parameter, defaulting to the primary.
func selectNode(rt *runtime.Runtime, r *http.Request) (*node.Node, bool) {
	name := r.URL.Query().Get("node")
	if name == "" {
		return rt.Primary(), true
	}
	return rt.Node(name)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseTimestamp accepts "secs:inc" or a raw 64-bit value. Empty is Null.
func parseTimestamp(s string) (optime.Timestamp, error) {
	if s == "" {
		return optime.Null, nil
	}
	return optime.Parse(s)
}

// parseBool parses a boolean string and returns the boolean value.
//
// Returns true for "true" or "1", false otherwise.
func parseBool(s string) bool {
	return s == "true" || s == "1"
}
