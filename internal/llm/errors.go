package llm

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed grading call.
type Kind string

const (
	KindNotConfigured       Kind = "not_configured"
	KindTimeout             Kind = "timeout"
	KindConnectionFailed    Kind = "connection_failed"
	KindHTTPError           Kind = "http_error"
	KindUnsupportedProvider Kind = "unsupported_provider"
	KindParseFailure        Kind = "parse_failure"
)

// Error is returned by every failing Client call. Status is set for
// KindHTTPError only.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPError {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusCode maps the failure to a status for API responses.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindNotConfigured, KindUnsupportedProvider:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
