package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// StatusFor maps permission sentinel errors to HTTP status codes and stable error codes
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, permission.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, permission.ErrUnknownResourceType):
		return http.StatusUnprocessableEntity, "unknown_resource_type"
	case errors.Is(err, permission.ErrMalformedCustomFilter):
		return http.StatusBadRequest, "malformed_custom_filter"
	case errors.Is(err, permission.ErrSelfLoop):
		return http.StatusBadRequest, "self_loop"
	case errors.Is(err, permission.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, permission.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, permission.ErrImmutable):
		return http.StatusConflict, "immutable"
	case errors.Is(err, permission.ErrUnknownPrincipal):
		return http.StatusBadRequest, "unknown_principal"
	}
	return http.StatusInternalServerError, "internal"
}

// WriteError writes err with the status StatusFor chooses. Internal errors
// are not echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes a 500 without leaking err to the client
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
