// Package httputil carries the JSON response helpers shared by every API
// handler, so status writing and error envelopes stay uniform across the
// catalog, scheduling, and delivery surfaces.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse is the error envelope returned with every non-2xx status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON serializes data with the given status. Encoding failures are logged;
// the status line is already on the wire by then, so the client sees a
// truncated body rather than a second status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[httputil] encode response: %v", err)
	}
}

// OK writes data with status 200.
func OK(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, data) }

// Created writes data with status 201.
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }

// NoContent writes an empty 204.
func NoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

func fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest reports an unreadable or malformed request body.
func BadRequest(w http.ResponseWriter, message string) {
	fail(w, http.StatusBadRequest, message)
}

// NotFound reports a missing or inactive resource.
func NotFound(w http.ResponseWriter, message string) {
	fail(w, http.StatusNotFound, message)
}

// Conflict reports a uniqueness violation, such as a duplicate enrollment.
func Conflict(w http.ResponseWriter, message string) {
	fail(w, http.StatusConflict, message)
}

// UnprocessableEntity reports input that parsed but failed validation.
func UnprocessableEntity(w http.ResponseWriter, message string) {
	fail(w, http.StatusUnprocessableEntity, message)
}

// InternalError logs err and reports a generic 500; the underlying error
// never reaches the client.
func InternalError(w http.ResponseWriter, err error) {
	log.Printf("[httputil] internal error: %v", err)
	fail(w, http.StatusInternalServerError, "internal server error")
}
