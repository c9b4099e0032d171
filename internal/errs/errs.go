// Package errs is the gateway's small typed-error taxonomy: each
// Kind carries the HTTP status and machine-readable "type" string the
// client sees in the Anthropic-shaped {error:{type,message}} envelope.
package errs

import "net/http"

// Kind discriminates the fixed set of client-visible error categories.
type Kind string

const (
	InvalidRequest     Kind = "invalid_request_error"
	Authentication     Kind = "authentication_error"
	APIError           Kind = "api_error"
	ServiceUnavailable Kind = "service_unavailable"
	Overloaded         Kind = "overloaded_error"
	Internal           Kind = "internal_error"
)

// httpStatus maps each Kind to its fixed HTTP status per §7.
var httpStatus = map[Kind]int{
	InvalidRequest:     http.StatusBadRequest,
	Authentication:     http.StatusUnauthorized,
	APIError:           http.StatusBadGateway,
	ServiceUnavailable: http.StatusServiceUnavailable,
	Overloaded:         http.StatusTooManyRequests,
	Internal:           http.StatusInternalServerError,
}

// Error is a client-visible gateway error.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds float64 // only meaningful for Overloaded
}

func (e *Error) Error() string { return e.Message }

// Status returns the fixed HTTP status for this error's Kind.
func (e *Error) Status() int { return httpStatus[e.Kind] }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Overloaded429 constructs the 429 overloaded_error carrying the Sticky
// Tracker's advisory retry-after.
func Overloaded429(retryAfterSeconds float64) *Error {
	return &Error{Kind: Overloaded, Message: "all credentials are at capacity", RetryAfterSeconds: retryAfterSeconds}
}

// Envelope is the wire shape: {"error": {"type": ..., "message": ...}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToEnvelope renders the Anthropic-style error body.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{Error: EnvelopeBody{Type: string(e.Kind), Message: e.Message}}
}

// retryable in brackets: used by the upstream caller to decide whether a
// given error kind (already produced by http mapping) should cause failover
// to the next credential. Per §4.B/§4.G/§7, only api_error (transient
// upstream transport/parse failure) retries across credentials.
func (e *Error) Retryable() bool { return e.Kind == APIError }
