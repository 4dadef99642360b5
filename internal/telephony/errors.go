package telephony

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindNotFound          ErrorKind = "not_found"
	KindRateLimited       ErrorKind = "rate_limited"
	KindUnavailable       ErrorKind = "unavailable"
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindRejected covers any other 4xx (bad payload, unassigned number, ...).
	KindRejected ErrorKind = "rejected"
)

var (
	ErrUnauthenticated   = errors.New("telephony: unauthenticated")
	ErrNotFound          = errors.New("telephony: not found")
	ErrRateLimited       = errors.New("telephony: rate limited")
	ErrUnavailable       = errors.New("telephony: unavailable")
	ErrMalformedResponse = errors.New("telephony: malformed response")
	ErrRejected          = errors.New("telephony: rejected")
)

var kindSentinels = map[ErrorKind]error{
	KindUnauthenticated:   ErrUnauthenticated,
	KindNotFound:          ErrNotFound,
	KindRateLimited:       ErrRateLimited,
	KindUnavailable:       ErrUnavailable,
	KindMalformedResponse: ErrMalformedResponse,
	KindRejected:          ErrRejected,
}

const maxErrorBody = 512

// ProviderError is a classified remote failure. Its text is stored verbatim on
// the call record, so it carries the HTTP code and a trimmed response body.
type ProviderError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("telephony: %s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ProviderError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of a *ProviderError anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthenticated
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindUnavailable
	default:
		return KindRejected
	}
}

func trimBody(b []byte) string {
	s := string(b)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
