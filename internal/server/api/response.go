// Package api provides HTTP API handlers for the bsort run ledger and
// classification workflows.
package api

import (
	"encoding/json"
	"net/http"
)

// maxUploadBytes caps the size of uploaded images.
const maxUploadBytes = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
