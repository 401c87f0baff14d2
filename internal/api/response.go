package api

import (
	"encoding/json"
	"net/http"

	"github.com/mwehrli/carillon/internal/apperrors"
)

// ErrorResponse wraps the error body for serialization.
type ErrorResponse struct {
	Error apperrors.ErrorBody `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError into the error response envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}

// WriteResource writes a single resource as-is.
func WriteResource(w http.ResponseWriter, status int, resource any) error {
	return WriteJSON(w, status, resource)
}

// WriteList writes a collection under a named key.
// Example: WriteList(w, "day_types", dayTypes)
func WriteList(w http.ResponseWriter, key string, items any) error {
	return WriteJSON(w, http.StatusOK, map[string]any{key: items})
}

// WriteOK writes a minimal success acknowledgement.
func WriteOK(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": message})
}
