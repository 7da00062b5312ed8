// Package apierr defines the HTTP-facing error taxonomy for the propagation
// server and a JSON error writer, generalized from perkeep's
// pkg/httputil.ServeJSONError (single httpCoder interface, one status code
// per error) into the full kind set the upload protocol needs.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/storepeer/propagator/internal/log"
)

// Kind is one of the error categories from the error-handling design.
type Kind int

const (
	// Internal is the zero value so a bare Error{} defaults to 500, not 200.
	Internal Kind = iota
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	Conflict
	RateLimited
)

func (k Kind) httpCode() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		// Spec §7 classifies re-upload-of-committed-root as "Conflict (400)".
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed, user-facing API error carrying one of the Kind values.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) HTTPCode() int { return e.Kind.httpCode() }

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, keeping cause for logging but
// never leaking it to the client (the JSON body only carries Message).
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

type httpCoder interface {
	HTTPCode() int
}

type jsonBody struct {
	Error string `json:"error"`
}

// WriteJSON renders err as the standard `{"error": "<message>"}` body with
// the status code implied by its Kind. Non-*Error values are treated as
// Internal.
func WriteJSON(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	if err != nil {
		msg = err.Error()
		if ae, ok := err.(*Error); ok {
			msg = ae.Message
		}
		if c, ok := err.(httpCoder); ok {
			code = c.HTTPCode()
		}
	}
	if code >= 500 {
		log.Logger.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(jsonBody{Error: msg})
}
