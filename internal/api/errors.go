package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/topic"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "backend_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeValidationError writes a 422 response listing the failed fields.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusUnprocessableEntity, Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    ErrCodeValidation,
		Message: "request validation failed",
		Details: fields,
	})
}

// writeDomainError maps a domain error onto an HTTP status. Unknown errors
// are logged by the caller and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, topic.ErrTopicNotFound),
		errors.Is(err, errBackendNotFound):
		writeNotFound(w, err.Error())

	case errors.Is(err, device.ErrUnknownVocabulary),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, topic.ErrInvalidTopic),
		errors.Is(err, topic.ErrUnknownBackend),
		errors.Is(err, topic.ErrEmptyPrompt):
		writeBadRequest(w, err.Error())

	case errors.Is(err, device.ErrVocabularyExists),
		errors.Is(err, device.ErrInUse),
		errors.Is(err, topic.ErrTopicExists),
		errors.Is(err, topic.ErrTopicDisabled),
		errors.Is(err, topic.ErrTopicNotConfigured):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, backend.ErrRejected):
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())

	default:
		writeInternalError(w, "internal server error")
	}
}
