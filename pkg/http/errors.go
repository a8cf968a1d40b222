package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error       string     `json:"error"`   // machine-readable code
	Message     string     `json:"message"` // safe for display
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// WriteJSON encodes body as JSON with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceUnavailable signals a transient backend failure. Clients may retry.
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

// WriteLocked reports an open lockout window together with its end
func WriteLocked(w http.ResponseWriter, until time.Time) {
	until = until.UTC()
	WriteJSON(w, http.StatusLocked, ErrorResponse{
		Error:       "account_locked",
		Message:     "account is temporarily locked",
		LockedUntil: &until,
	})
}
