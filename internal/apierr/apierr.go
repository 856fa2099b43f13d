// Package apierr is the closed error taxonomy shared by every layer that
// talks to the upstream appointment API. Kinds are assigned from HTTP status
// codes at the transport layer, never inferred from message text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthExpired means the bearer token was rejected (401). The caller
	// gets exactly one relogin-and-retry before this becomes AuthRequired.
	KindAuthExpired
	// KindRateLimited (429) is never retried locally; the scheduler enters a
	// cooldown instead.
	KindRateLimited
	// KindForbidden (403) is terminal.
	KindForbidden
	// KindServerError covers upstream 5xx responses.
	KindServerError
	// KindTransient covers transport-level failures (connection reset,
	// timeout) that never produced a status code.
	KindTransient
	// KindRetryExhausted is produced by the retry wrapper once the attempt
	// budget for transient/server errors runs out.
	KindRetryExhausted
	// KindAuthRequired means no credentials are available or relogin failed.
	KindAuthRequired
	// KindInvalidIdentity flags a zero or malformed identity where a concrete
	// one is required. Contract violation, fail fast.
	KindInvalidIdentity
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindServerError:
		return "server_error"
	case KindTransient:
		return "transient"
	case KindRetryExhausted:
		return "retry_exhausted"
	case KindAuthRequired:
		return "auth_required"
	case KindInvalidIdentity:
		return "invalid_identity"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Status  int    // HTTP status that produced this error, 0 if none
	Op      string // operation, e.g. "search", "book", "login"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status=%d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an upstream HTTP status to a taxonomy error. Callers handle
// their success codes (and any operation-specific ones like 400/409 on
// booking) before reaching for this.
func FromStatus(op string, status int) *Error {
	e := &Error{Op: op, Status: status}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuthExpired
		e.Message = "bearer token expired or invalid"
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
		e.Message = "access denied"
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.Message = "too many requests"
	case status >= 500:
		e.Kind = KindServerError
		e.Message = "upstream server error"
	default:
		e.Kind = KindUnknown
		e.Message = "unexpected status"
	}
	return e
}

// KindOf extracts the taxonomy kind from an error chain. Unrecognized errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Retryable reports whether the retry wrapper may attempt the operation
// again. Only transport failures and upstream 5xx qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindServerError:
		return true
	default:
		return false
	}
}
