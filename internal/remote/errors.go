package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed remote call for the retry policy.
type Kind int

const (
	// KindTransient covers timeouts, connection failures and 5xx responses.
	KindTransient Kind = iota + 1
	// KindRateLimited is a 429; retried after the server-specified delay.
	KindRateLimited
	// KindAuth is a 401 or 403; never retried.
	KindAuth
	// KindFatal is any other 4xx; never retried.
	KindFatal
	// KindValidation is a response that does not match the expected schema.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindFatal:
		return "fatal"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation that reached the network.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return 0
}

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsAuth reports whether the remote rejected our credentials.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.StatusCode
	}
	return 0
}

func classifyStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 401 || code == 403:
		return KindAuth
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindFatal
	default:
		return 0
	}
}
