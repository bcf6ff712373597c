// Package api implements the Protocol Server's HTTP surface: the REST
// management API under /v1/me and /v1/admin, the authz/rate-limit
// middleware in front of the MCP endpoint, and the router that ties them
// together.
//
// Handler shape follows the teacher's internal/api/handlers package: one
// Handlers struct holding dependencies, respondJSON/respondError
// helpers, chi URL params.
package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the REST error envelope: {error: CODE, message: text}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}
