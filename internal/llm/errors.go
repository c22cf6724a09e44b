package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed completion request.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindTransport   Kind = "transport_error"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server_error"
	KindAuth        Kind = "auth_error"
	// KindRejected covers 4xx answers other than auth and rate limiting.
	KindRejected Kind = "rejected"
)

// Error is returned by Client.Complete for every request-level failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAuth reports whether err is an invalid-credential failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindServer
	default:
		return KindRejected
	}
}
