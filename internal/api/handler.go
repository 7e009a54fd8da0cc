// Package api provides HTTP handlers for the admin conversation console.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/itorigin/origin-chat/internal/shared"
	"github.com/itorigin/origin-chat/internal/store"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// storeError maps a repository failure to a response.
func storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "conversation not found")
	case shared.IsDBConflictError(err):
		slog.Warn("Store busy", "op", op, "error", err)
		Error(w, http.StatusServiceUnavailable, "store busy, try again")
	default:
		slog.Error("Store operation failed", "op", op, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
