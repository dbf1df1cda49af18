// Package apierr defines the discriminated error kinds the core returns to
// its callers, and the HTTP status mapping for them. Handlers never build
// status codes themselves; they return an *apierr.Error and let
// WriteError do the mapping.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is a discriminated error kind, not a Go type name.
type Kind string

const (
	BadRequest    Kind = "BadRequest"
	Unauthorized  Kind = "Unauthorized"
	Unprocessable Kind = "Unprocessable"
	NotFound      Kind = "NotFound"
	Conflict      Kind = "Conflict"
	Internal      Kind = "Internal"
)

// Error is the error value carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusFor maps an error Kind to its HTTP status code per the documented
// boundary table.
func StatusFor(k Kind) int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Unprocessable:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err to w as a JSON body {"error": "...", "kind": "..."}
// with the status code matching its Kind. Non-*Error values are treated as
// Internal.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = &Error{Kind: Internal, Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(apiErr.Kind))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": apiErr.Message,
		"kind":  string(apiErr.Kind),
	})
}
