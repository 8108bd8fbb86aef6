// Package handlers implements the read-only HTTP endpoints of the status
// server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/3leaps/hepgrid/internal/server/middleware"
)

// Error codes used in response envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NotFound answers unknown routes with a NOT_FOUND envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, CodeNotFound, "resource not found", map[string]any{"path": r.URL.Path})
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", map[string]any{"method": r.Method})
}
